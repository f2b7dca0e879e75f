package model

import "time"

// Locker status values as stored in the database.
const (
	StatusAvailable = "available"
	StatusOccupied  = "occupied"
)

// Locker represents one physical locker slot.
type Locker struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	LockerCode    string     `gorm:"uniqueIndex;size:16;not null" json:"lockerCode"`
	Status        string     `gorm:"size:16;not null;default:available" json:"status"`
	CurrentUserID *int64     `gorm:"index" json:"currentUserId"`
	OccupiedAt    *time.Time `json:"occupiedAt"`

	// Associations
	CurrentUser *User `gorm:"foreignKey:CurrentUserID" json:"currentUser,omitempty"`
}
