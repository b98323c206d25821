package database

import (
	"time"

	"gorm.io/gorm"
)

// BurstRepository handles talk burst database operations
type BurstRepository struct {
	db *gorm.DB
}

// NewBurstRepository creates a new talk burst repository
func NewBurstRepository(db *gorm.DB) *BurstRepository {
	return &BurstRepository{db: db}
}

// Create adds a new talk burst record
func (r *BurstRepository) Create(b *TalkBurst) error {
	return r.db.Create(b).Error
}

// GetRecent retrieves the most recent N bursts
func (r *BurstRepository) GetRecent(limit int) ([]TalkBurst, error) {
	var bursts []TalkBurst
	err := r.db.Order("start_time DESC").Limit(limit).Find(&bursts).Error
	return bursts, err
}

// GetRecentPaginated retrieves bursts with pagination
func (r *BurstRepository) GetRecentPaginated(page, perPage int) ([]TalkBurst, int64, error) {
	var bursts []TalkBurst
	var total int64

	if err := r.db.Model(&TalkBurst{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	err := r.db.Order("start_time DESC").
		Offset(offset).
		Limit(perPage).
		Find(&bursts).Error

	return bursts, total, err
}

// GetByTimeRange retrieves bursts started within a time range
func (r *BurstRepository) GetByTimeRange(start, end time.Time, limit int) ([]TalkBurst, error) {
	var bursts []TalkBurst
	err := r.db.Where("start_time BETWEEN ? AND ?", start, end).
		Order("start_time DESC").
		Limit(limit).
		Find(&bursts).Error
	return bursts, err
}

// TotalAirtime sums burst durations since the given time, in seconds
func (r *BurstRepository) TotalAirtime(since time.Time) (float64, error) {
	var total float64
	err := r.db.Model(&TalkBurst{}).
		Where("start_time >= ?", since).
		Select("COALESCE(SUM(duration), 0)").
		Scan(&total).Error
	return total, err
}

// DeleteOlderThan deletes bursts started before the specified time
func (r *BurstRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("start_time < ?", before).Delete(&TalkBurst{})
	return result.RowsAffected, result.Error
}

// CallEventRepository handles call event database operations
type CallEventRepository struct {
	db *gorm.DB
}

// NewCallEventRepository creates a new call event repository
func NewCallEventRepository(db *gorm.DB) *CallEventRepository {
	return &CallEventRepository{db: db}
}

// Create adds a new call event
func (r *CallEventRepository) Create(e *CallEvent) error {
	return r.db.Create(e).Error
}

// GetRecent retrieves the most recent N call events
func (r *CallEventRepository) GetRecent(limit int) ([]CallEvent, error) {
	var events []CallEvent
	err := r.db.Order("time DESC").Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}

// DeleteOlderThan deletes call events before the specified time
func (r *CallEventRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("time < ?", before).Delete(&CallEvent{})
	return result.RowsAffected, result.Error
}

// LinkSampleRepository handles link sample database operations
type LinkSampleRepository struct {
	db *gorm.DB
}

// NewLinkSampleRepository creates a new link sample repository
func NewLinkSampleRepository(db *gorm.DB) *LinkSampleRepository {
	return &LinkSampleRepository{db: db}
}

// Create adds a new link sample
func (r *LinkSampleRepository) Create(s *LinkSample) error {
	return r.db.Create(s).Error
}

// GetRecent retrieves the most recent N samples
func (r *LinkSampleRepository) GetRecent(limit int) ([]LinkSample, error) {
	var samples []LinkSample
	err := r.db.Order("time DESC").Limit(limit).Find(&samples).Error
	return samples, err
}

// DeleteOlderThan deletes samples before the specified time
func (r *LinkSampleRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("time < ?", before).Delete(&LinkSample{})
	return result.RowsAffected, result.Error
}
