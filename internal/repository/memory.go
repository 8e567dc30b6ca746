package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"tamacloud/internal/domain"
)

// 内存实现：数据库不可用时的降级仓储，也用于单元测试
// 语义与 PostgreSQL 实现一致（排序、ErrNotFound/ErrConflict、幂等确认）

// MemoryReadingRepo 传感器读数内存实现
type MemoryReadingRepo struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*domain.Reading
}

func NewMemoryReadingRepo() *MemoryReadingRepo {
	return &MemoryReadingRepo{nextID: 1}
}

func (r *MemoryReadingRepo) Insert(_ context.Context, rd *domain.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd.ID = r.nextID
	r.nextID++
	cp := *rd
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MemoryReadingRepo) Latest(_ context.Context, deviceID string, limit int) ([]*domain.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := r.byDevice(deviceID)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return copyReadings(matched), nil
}

func (r *MemoryReadingRepo) LatestAccel(_ context.Context, deviceID string) (float64, float64, float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Reading
	for _, rd := range r.rows {
		if rd.DeviceID != deviceID {
			continue
		}
		if latest == nil || rd.Timestamp.After(latest.Timestamp) {
			latest = rd
		}
	}
	if latest == nil {
		return 0, 0, 0, ErrNotFound
	}
	return latest.AccelX, latest.AccelY, latest.AccelZ, nil
}

func (r *MemoryReadingRepo) ImageByID(_ context.Context, id int64) ([]byte, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rd := range r.rows {
		if rd.ID == id && rd.HasImage() {
			return rd.Image, deref(rd.ImageFilename), nil
		}
	}
	return nil, "", ErrNotFound
}

func (r *MemoryReadingRepo) LatestImage(_ context.Context, deviceID string) ([]byte, string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Reading
	for _, rd := range r.rows {
		if rd.DeviceID != deviceID || !rd.HasImage() {
			continue
		}
		if latest == nil || rd.Timestamp.After(latest.Timestamp) {
			latest = rd
		}
	}
	if latest == nil {
		return nil, "", "", ErrNotFound
	}
	return latest.Image, deref(latest.ImageFilename), deref(latest.Caption), nil
}

func (r *MemoryReadingRepo) SetCaption(_ context.Context, id int64, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rd := range r.rows {
		if rd.ID == id {
			c := caption
			rd.Caption = &c
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryReadingRepo) UpdateLatestOrientation(_ context.Context, deviceID, orientation string, confidence, ax, ay, az float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Reading
	for _, rd := range r.rows {
		if rd.DeviceID != deviceID {
			continue
		}
		if latest == nil || rd.Timestamp.After(latest.Timestamp) {
			latest = rd
		}
	}
	if latest == nil {
		return ErrNotFound
	}
	latest.Orientation = orientation
	latest.OrientationConfidence = confidence
	latest.CalibratedAX, latest.CalibratedAY, latest.CalibratedAZ = ax, ay, az
	return nil
}

func (r *MemoryReadingRepo) UncaptionedImages(_ context.Context, limit int) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var candidates []*domain.Reading
	for _, rd := range r.rows {
		if rd.HasImage() && rd.Caption == nil {
			candidates = append(candidates, rd)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})
	var ids []int64
	for _, rd := range candidates {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, rd.ID)
	}
	return ids, nil
}

func (r *MemoryReadingRepo) Stats(_ context.Context, deviceID string, day time.Time) (int, float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	var count int
	var maxMic float64
	for _, rd := range r.rows {
		if rd.DeviceID != deviceID {
			continue
		}
		ts := rd.Timestamp.UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		count++
		if rd.MicLevel > maxMic {
			maxMic = rd.MicLevel
		}
	}
	return count, maxMic, nil
}

func (r *MemoryReadingRepo) DailyStepAggregate(_ context.Context, deviceID string, day time.Time) (int, int, float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var total, peak, nonZero int
	var nonZeroSum float64
	for _, rd := range r.rows {
		if rd.DeviceID != deviceID {
			continue
		}
		ts := rd.Timestamp.UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		total += rd.StepCount
		if rd.StepCount > peak {
			peak = rd.StepCount
		}
		if rd.StepCount > 0 {
			nonZero++
			nonZeroSum += float64(rd.StepCount)
		}
	}
	var avg float64
	if nonZero > 0 {
		avg = nonZeroSum / float64(nonZero)
	}
	return total, peak, avg, nil
}

func (r *MemoryReadingRepo) Devices(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, rd := range r.rows {
		if _, ok := seen[rd.DeviceID]; ok {
			continue
		}
		seen[rd.DeviceID] = struct{}{}
		out = append(out, rd.DeviceID)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryReadingRepo) ExportRows(_ context.Context, deviceID string, limit int) ([]*domain.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := r.byDevice(deviceID)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return copyReadings(matched), nil
}

func (r *MemoryReadingRepo) Clear(_ context.Context, deviceID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*domain.Reading
	var deleted int64
	for _, rd := range r.rows {
		if rd.DeviceID == deviceID {
			deleted++
			continue
		}
		kept = append(kept, rd)
	}
	r.rows = kept
	return deleted, nil
}

func (r *MemoryReadingRepo) byDevice(deviceID string) []*domain.Reading {
	var matched []*domain.Reading
	for _, rd := range r.rows {
		if rd.DeviceID == deviceID {
			matched = append(matched, rd)
		}
	}
	return matched
}

func copyReadings(in []*domain.Reading) []*domain.Reading {
	out := make([]*domain.Reading, len(in))
	for i, rd := range in {
		cp := *rd
		out[i] = &cp
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MemoryStepStatRepo 步数日统计内存实现
type MemoryStepStatRepo struct {
	mu    sync.RWMutex
	stats map[string]*domain.StepDailyStat // key: deviceID + "|" + date
}

func NewMemoryStepStatRepo() *MemoryStepStatRepo {
	return &MemoryStepStatRepo{stats: make(map[string]*domain.StepDailyStat)}
}

func statKey(deviceID string, day time.Time) string {
	return deviceID + "|" + day.UTC().Format("2006-01-02")
}

func (r *MemoryStepStatRepo) AddSteps(_ context.Context, deviceID string, day time.Time, steps int, avgInterval float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := statKey(deviceID, day)
	s, ok := r.stats[key]
	if !ok {
		s = &domain.StepDailyStat{DeviceID: deviceID, Date: dateOnly(day)}
		r.stats[key] = s
	}
	s.TotalSteps += steps
	if steps > s.PeakSteps {
		s.PeakSteps = steps
	}
	s.AvgStepInterval = avgInterval
	s.ActivityLevel = domain.ActivityLevelFor(s.TotalSteps)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryStepStatRepo) ReplaceDaily(_ context.Context, s *domain.StepDailyStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Date = dateOnly(s.Date)
	cp.UpdatedAt = time.Now().UTC()
	r.stats[statKey(s.DeviceID, s.Date)] = &cp
	return nil
}

func (r *MemoryStepStatRepo) Get(_ context.Context, deviceID string, day time.Time) (*domain.StepDailyStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[statKey(deviceID, day)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryStepStatRepo) Range(_ context.Context, deviceID string, from, to time.Time) ([]*domain.StepDailyStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lo, hi := dateOnly(from), dateOnly(to)
	var out []*domain.StepDailyStat
	for _, s := range r.stats {
		if s.DeviceID != deviceID || s.Date.Before(lo) || s.Date.After(hi) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// MemoryEventRepo 重要事件内存实现
type MemoryEventRepo struct {
	mu     sync.RWMutex
	nextID int64
	events []*domain.ImportantEvent
}

func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{nextID: 1}
}

func (r *MemoryEventRepo) Insert(_ context.Context, e *domain.ImportantEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = r.nextID
	r.nextID++
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *MemoryEventRepo) Unsent(_ context.Context, deviceID string, limit int) ([]*domain.ImportantEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*domain.ImportantEvent
	for _, e := range r.events {
		if e.DeviceID == deviceID && !e.Sent {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*domain.ImportantEvent, len(matched))
	for i, e := range matched {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r *MemoryEventRepo) MarkSent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Sent = true
			return nil
		}
	}
	return ErrNotFound
}

// MemoryPetStateRepo 宠物状态内存实现
type MemoryPetStateRepo struct {
	mu     sync.Mutex
	nextID int64
	states map[string]*domain.PetState
}

func NewMemoryPetStateRepo() *MemoryPetStateRepo {
	return &MemoryPetStateRepo{nextID: 1, states: make(map[string]*domain.PetState)}
}

func (r *MemoryPetStateRepo) Get(_ context.Context, deviceID string) (*domain.PetState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryPetStateRepo) Create(_ context.Context, s *domain.PetState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = r.nextID
	r.nextID++
	r.states[s.DeviceID] = s.Clone()
	return nil
}

func (r *MemoryPetStateRepo) UpdateVersioned(_ context.Context, s *domain.PetState, expectVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.states[s.DeviceID]
	if !ok || cur.Version != expectVersion {
		return ErrConflict
	}
	cp := s.Clone()
	cp.ID = cur.ID
	r.states[s.DeviceID] = cp
	return nil
}

func (r *MemoryPetStateRepo) Devices(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.states))
	for id := range r.states {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// MemoryDisplayRepo 显示覆盖内存实现
type MemoryDisplayRepo struct {
	mu        sync.RWMutex
	nextID    int64
	overrides map[string]*domain.DisplayOverride
}

func NewMemoryDisplayRepo() *MemoryDisplayRepo {
	return &MemoryDisplayRepo{nextID: 1, overrides: make(map[string]*domain.DisplayOverride)}
}

func (r *MemoryDisplayRepo) Get(_ context.Context, deviceID string) (*domain.DisplayOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.overrides[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryDisplayRepo) Upsert(_ context.Context, o *domain.DisplayOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.overrides[o.DeviceID]; ok {
		o.ID = existing.ID
	} else {
		o.ID = r.nextID
		r.nextID++
	}
	cp := *o
	r.overrides[o.DeviceID] = &cp
	return nil
}

func (r *MemoryDisplayRepo) Delete(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, deviceID)
	return nil
}
