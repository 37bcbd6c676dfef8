package datastore

import "time"

// Event is one trigger number of a pole event
type Event struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	Pole          string      `gorm:"index;size:64;not null" json:"pole"`
	EventTime     time.Time   `gorm:"index;not null" json:"event_time"`
	TriggerNum    uint        `gorm:"not null" json:"trigger_num"`
	Timestamp     float64     `json:"timestamp"` // earliest host time of the trigger across cameras
	TransactionID string      `gorm:"uniqueIndex;size:36;not null" json:"transaction_id"`
	Shoots        []EventShot `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"shoots"`
	CreatedAt     time.Time   `json:"created_at"`
}

// EventShot is one camera's written frame for an Event
type EventShot struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	EventID   uint   `gorm:"index;not null" json:"event_id"`
	CameraID  string `gorm:"index;size:64;not null" json:"camera_id"`
	CameraNum int    `json:"camera_num"`
	ImagePath string `gorm:"size:1024" json:"image_path"`
}

// CameraError is one camera error report
type CameraError struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CameraID     string    `gorm:"index;size:64;not null" json:"camera_id"`
	Kind         string    `gorm:"size:32;not null" json:"kind"`
	StillRunning bool      `json:"still_running"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}
