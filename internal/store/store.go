package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"smart-locker-backend/internal/model"
)

var (
	// ErrNoLockerAvailable is returned by ClaimFirstAvailable when every
	// locker is occupied.
	ErrNoLockerAvailable = errors.New("no locker available")

	// ErrCardTaken is returned by BindCard when the card uid already belongs
	// to a different user.
	ErrCardTaken = errors.New("card already registered to another user")
)

// Store defines the interface for all database operations the controller
// performs. The booking service and the background monitor both depend on
// this interface rather than on gorm directly.
type Store interface {
	UserByCardUID(ctx context.Context, uid string) (*model.User, error)
	LockerByUser(ctx context.Context, userID int64) (*model.Locker, error)
	ClaimFirstAvailable(ctx context.Context, userID int64, now time.Time) (*model.Locker, error)
	ReleaseLocker(ctx context.Context, lockerID, userID int64, now time.Time, durationMinutes int) error
	BindCard(ctx context.Context, userID int64, uid string) error
	AvailableCount(ctx context.Context) (int64, error)
	Lockers(ctx context.Context) ([]model.Locker, error)
	Subscriptions(ctx context.Context) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for the API layer.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// UserByCardUID resolves a scanned card uid to a user. A nil user with a nil
// error means the card is unknown.
func (s *gormStore) UserByCardUID(ctx context.Context, uid string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("card_uid = ?", uid).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up card uid: %w", err)
	}
	return &user, nil
}

// LockerByUser returns the locker currently held by the user, or nil if the
// user holds none.
func (s *gormStore) LockerByUser(ctx context.Context, userID int64) (*model.Locker, error) {
	var locker model.Locker
	err := s.db.WithContext(ctx).Where("current_user_id = ?", userID).First(&locker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up locker for user %d: %w", userID, err)
	}
	return &locker, nil
}

// ClaimFirstAvailable assigns the first available locker (by stored order) to
// the user: marks it occupied, stamps occupied_at and opens a usage record.
// The whole assignment runs in one transaction.
func (s *gormStore) ClaimFirstAvailable(ctx context.Context, userID int64, now time.Time) (*model.Locker, error) {
	var claimed model.Locker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locker model.Locker
		err := tx.Where("status = ?", model.StatusAvailable).
			Order("id").
			First(&locker).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoLockerAvailable
		}
		if err != nil {
			return fmt.Errorf("failed to select an available locker: %w", err)
		}

		updates := map[string]any{
			"status":          model.StatusOccupied,
			"current_user_id": userID,
			"occupied_at":     now,
		}
		if err := tx.Model(&model.Locker{}).Where("id = ?", locker.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to mark locker %d occupied: %w", locker.ID, err)
		}

		usage := model.UsageRecord{
			UserID:       userID,
			LockerNumber: locker.ID,
			StartTime:    now,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return fmt.Errorf("failed to open usage record for locker %d: %w", locker.ID, err)
		}

		locker.Status = model.StatusOccupied
		locker.CurrentUserID = &userID
		locker.OccupiedAt = &now
		claimed = locker
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// ReleaseLocker frees a locker and closes the matching open usage record.
// The most recent open record for the (user, locker) pair wins; a user can in
// theory carry stale open records from prior hardware faults.
func (s *gormStore) ReleaseLocker(ctx context.Context, lockerID, userID int64, now time.Time, durationMinutes int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":          model.StatusAvailable,
			"current_user_id": nil,
			"occupied_at":     nil,
		}
		if err := tx.Model(&model.Locker{}).Where("id = ?", lockerID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to free locker %d: %w", lockerID, err)
		}

		var usage model.UsageRecord
		err := tx.Where("user_id = ? AND locker_number = ? AND end_time IS NULL", userID, lockerID).
			Order("start_time DESC").
			Order("id DESC").
			First(&usage).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing to close; the locker is freed regardless.
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find open usage record for locker %d: %w", lockerID, err)
		}

		note := fmt.Sprintf("Duration: %d mins", durationMinutes)
		closeUpdates := map[string]any{
			"end_time":         now,
			"duration_minutes": durationMinutes,
			"notes":            note,
		}
		if err := tx.Model(&model.UsageRecord{}).Where("id = ?", usage.ID).Updates(closeUpdates).Error; err != nil {
			return fmt.Errorf("failed to close usage record %d: %w", usage.ID, err)
		}
		return nil
	})
}

// BindCard attaches a card uid to the user. If the uid already belongs to a
// different user no record is mutated and ErrCardTaken is returned.
func (s *gormStore) BindCard(ctx context.Context, userID int64, uid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var other model.User
		err := tx.Where("card_uid = ? AND id <> ?", uid, userID).First(&other).Error
		if err == nil {
			return ErrCardTaken
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check card ownership: %w", err)
		}

		res := tx.Model(&model.User{}).Where("id = ?", userID).Update("card_uid", uid)
		if res.Error != nil {
			return fmt.Errorf("failed to bind card to user %d: %w", userID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("user %d not found", userID)
		}
		return nil
	})
}

// AvailableCount returns the number of lockers currently available, shown on
// the idle screen.
func (s *gormStore) AvailableCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Locker{}).
		Where("status = ?", model.StatusAvailable).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count available lockers: %w", err)
	}
	return count, nil
}

// Lockers returns every locker ordered by stored order.
func (s *gormStore) Lockers(ctx context.Context) ([]model.Locker, error) {
	var lockers []model.Locker
	if err := s.db.WithContext(ctx).Order("id").Find(&lockers).Error; err != nil {
		return nil, fmt.Errorf("failed to list lockers: %w", err)
	}
	return lockers, nil
}

// Subscriptions returns every stored push subscription.
func (s *gormStore) Subscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscription removes a push subscription by endpoint.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}
