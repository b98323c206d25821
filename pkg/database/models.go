package database

import (
	"time"

	"gorm.io/gorm"
)

// TalkBurst is one local transmission from key-up to release
type TalkBurst struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	SessionID   string    `gorm:"size:36;uniqueIndex;not null" json:"session_id"`
	BootID      string    `gorm:"size:36;index" json:"boot_id"`
	Role        string    `gorm:"size:8;not null" json:"role"`
	DeviceID    int       `gorm:"not null" json:"device_id"`
	Mode        string    `gorm:"size:16" json:"mode"`      // deepest PTT state reached
	Duration    float64   `gorm:"not null" json:"duration"` // seconds
	StartTime   time.Time `gorm:"index;not null" json:"start_time"`
	EndTime     time.Time `gorm:"not null" json:"end_time"`
	PacketsSent uint64    `gorm:"default:0" json:"packets_sent"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for TalkBurst
func (TalkBurst) TableName() string {
	return "talk_bursts"
}

// BeforeCreate fills timestamps left unset
func (b *TalkBurst) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.StartTime.IsZero() {
		b.StartTime = now
	}
	if b.EndTime.IsZero() {
		b.EndTime = b.StartTime
	}
	return nil
}

// CallEvent is one call state change
type CallEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	BootID    string    `gorm:"size:36;index" json:"boot_id"`
	Role      string    `gorm:"size:8;not null" json:"role"`
	State     string    `gorm:"size:16;not null" json:"state"`
	Calling   bool      `json:"calling"`
	Time      time.Time `gorm:"index;not null" json:"time"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for CallEvent
func (CallEvent) TableName() string {
	return "call_events"
}

// BeforeCreate fills timestamps left unset
func (e *CallEvent) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Time.IsZero() {
		e.Time = e.CreatedAt
	}
	return nil
}

// LinkSample is a periodic record of link quality
type LinkSample struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	BootID          string    `gorm:"size:36;index" json:"boot_id"`
	Link            string    `gorm:"size:16" json:"link"`
	Signal          string    `gorm:"size:8" json:"signal"`
	PacketsReceived uint64    `json:"packets_received"`
	PacketsLost     uint64    `json:"packets_lost"`
	LossPercent     float64   `json:"loss_percent"`
	BatteryPercent  *int      `json:"battery_percent,omitempty"`
	Time            time.Time `gorm:"index;not null" json:"time"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for LinkSample
func (LinkSample) TableName() string {
	return "link_samples"
}

// BeforeCreate fills timestamps left unset
func (s *LinkSample) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Time.IsZero() {
		s.Time = s.CreatedAt
	}
	return nil
}
