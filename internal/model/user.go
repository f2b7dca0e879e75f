package model

// User represents an account that can hold a locker. CardUID is the
// contactless credential bound through the pairing workflow; it is nil
// until a card has been paired.
type User struct {
	ID      int64   `gorm:"primaryKey" json:"id"`
	Name    string  `gorm:"size:128;not null" json:"name"`
	CardUID *string `gorm:"column:card_uid;uniqueIndex;size:32" json:"-"`
}
