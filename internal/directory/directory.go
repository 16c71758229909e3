// Package directory answers relationship and authorization questions about
// users and bookings. The realtime core only asks facts of it; it never
// mutates bookings.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrEmailTaken      = errors.New("email is already registered")
)

const (
	RoleCustomer = "customer"
	RoleProvider = "provider"
)

type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"size:120;not null" json:"name"`
	Email        string     `gorm:"size:190;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         string     `gorm:"size:20;not null" json:"role"`
	Active       bool       `gorm:"not null" json:"active"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Booking struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	CustomerID string `gorm:"size:36;index;not null" json:"customer_id"`
	ProviderID string `gorm:"size:36;index;not null" json:"provider_id"`
	Status     string `gorm:"size:20;not null" json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

type Directory struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Migrate() error {
	return d.db.AutoMigrate(&User{}, &Booking{})
}

func (d *Directory) CreateUser(ctx context.Context, user *User) error {
	var count int64
	if err := d.db.WithContext(ctx).Model(&User{}).
		Where("email = ?", user.Email).Count(&count).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}
	if err := d.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (d *Directory) FindUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := d.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (d *Directory) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := d.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// IsActive reports whether a user exists and is not deactivated.
func (d *Directory) IsActive(ctx context.Context, userID string) (bool, error) {
	user, err := d.FindUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Active, nil
}

// TouchLastSeen records a non-authoritative last-seen hint on the user row.
func (d *Directory) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("last_seen_at", at).Error
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// CreateBooking persists a booking row. The booking lifecycle itself lives in
// the booking service; this exists for that service and for fixtures.
func (d *Directory) CreateBooking(ctx context.Context, booking *Booking) error {
	if err := d.db.WithContext(ctx).Create(booking).Error; err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (d *Directory) FindBooking(ctx context.Context, id string) (*Booking, error) {
	var booking Booking
	err := d.db.WithContext(ctx).First(&booking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	return &booking, nil
}
