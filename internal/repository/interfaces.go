package repository

import (
	"context"
	"time"

	"tamacloud/internal/domain"
)

// ReadingRepo 传感器读数仓储接口
type ReadingRepo interface {
	// Insert 写入一条读数，回填 ID
	Insert(ctx context.Context, r *domain.Reading) error
	// Latest 按时间倒序取最近 limit 条
	Latest(ctx context.Context, deviceID string, limit int) ([]*domain.Reading, error)
	// LatestAccel 取最近一条读数的加速度三轴，无数据时返回 ErrNotFound
	LatestAccel(ctx context.Context, deviceID string) (ax, ay, az float64, err error)
	// ImageByID 取指定读数携带的照片
	ImageByID(ctx context.Context, id int64) (image []byte, filename string, err error)
	// LatestImage 取最近一张照片及其 AI 描述
	LatestImage(ctx context.Context, deviceID string) (image []byte, filename, caption string, err error)
	// SetCaption 回填 AI 描述
	SetCaption(ctx context.Context, id int64, caption string) error
	// UpdateLatestOrientation 把姿态写到最近一条读数上，没有读数时返回 ErrNotFound
	UpdateLatestOrientation(ctx context.Context, deviceID, orientation string, confidence, ax, ay, az float64) error
	// UncaptionedImages 取尚未生成描述的带图读数 ID
	UncaptionedImages(ctx context.Context, limit int) ([]int64, error)
	// Stats 当天读数条数与峰值
	Stats(ctx context.Context, deviceID string, day time.Time) (count int, maxMic float64, err error)
	// DailyStepAggregate 按读数全量重算当日步数（总数 / 单批峰值 / 非零批均值）
	DailyStepAggregate(ctx context.Context, deviceID string, day time.Time) (total, peak int, avgSteps float64, err error)
	// Devices 出现过读数的设备列表
	Devices(ctx context.Context) ([]string, error)
	// ExportRows 按时间正序取导出数据
	ExportRows(ctx context.Context, deviceID string, limit int) ([]*domain.Reading, error)
	// Clear 清空该设备全部读数
	Clear(ctx context.Context, deviceID string) (int64, error)
}

// StepStatRepo 步数日统计仓储接口
type StepStatRepo interface {
	// AddSteps 当日步数累加（upsert，即时路径）
	AddSteps(ctx context.Context, deviceID string, day time.Time, steps int, avgInterval float64) error
	// ReplaceDaily 按聚合结果整行覆盖（60秒重算路径）
	ReplaceDaily(ctx context.Context, s *domain.StepDailyStat) error
	// Get 取指定日期统计，无记录返回 ErrNotFound
	Get(ctx context.Context, deviceID string, day time.Time) (*domain.StepDailyStat, error)
	// Range 取日期区间内统计（升序）
	Range(ctx context.Context, deviceID string, from, to time.Time) ([]*domain.StepDailyStat, error)
}

// EventRepo 重要事件仓储接口
type EventRepo interface {
	// Insert 写入一条未发送事件
	Insert(ctx context.Context, e *domain.ImportantEvent) error
	// Unsent 按时间倒序取未确认事件，最多 limit 条
	Unsent(ctx context.Context, deviceID string, limit int) ([]*domain.ImportantEvent, error)
	// MarkSent 确认事件已送达；重复确认视为成功，未知 ID 返回 ErrNotFound
	MarkSent(ctx context.Context, id int64) error
}

// PetStateRepo 宠物状态仓储接口
type PetStateRepo interface {
	// Get 读取设备宠物状态，不存在返回 ErrNotFound
	Get(ctx context.Context, deviceID string) (*domain.PetState, error)
	// Create 创建初始状态
	Create(ctx context.Context, s *domain.PetState) error
	// UpdateVersioned 带版本号条件更新，版本不匹配返回 ErrConflict
	UpdateVersioned(ctx context.Context, s *domain.PetState, expectVersion int) error
	// Devices 已有宠物状态的设备列表（调度器遍历用）
	Devices(ctx context.Context) ([]string, error)
}

// DisplayRepo 显示覆写仓储接口
type DisplayRepo interface {
	// Get 读取设备当前覆写，不存在返回 ErrNotFound
	Get(ctx context.Context, deviceID string) (*domain.DisplayOverride, error)
	// Upsert 写入或更新覆写
	Upsert(ctx context.Context, o *domain.DisplayOverride) error
	// Delete 删除覆写（恢复自动模式）
	Delete(ctx context.Context, deviceID string) error
}
