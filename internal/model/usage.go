package model

import "time"

// UsageRecord logs one occupancy of a locker by a user. A record with a nil
// EndTime is an open usage; it is closed by the background monitor when the
// release is confirmed by the latch sensor.
type UsageRecord struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"index;not null" json:"userId"`
	LockerNumber    int64      `gorm:"index;not null" json:"lockerNumber"`
	StartTime       time.Time  `gorm:"not null" json:"startTime"`
	EndTime         *time.Time `json:"endTime"`
	DurationMinutes *int       `json:"durationMinutes"`
	Notes           string     `gorm:"size:256" json:"notes"`
}

// TableName keeps the table shared with the web server.
func (UsageRecord) TableName() string {
	return "locker_usage"
}
