package repository

import "errors"

// 仓库层统一错误：sql.ErrNoRows 等底层错误在仓库边界转换，不穿透到引擎或接口层
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
)
