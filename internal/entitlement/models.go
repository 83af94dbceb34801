package entitlement

import (
	"time"

	"gorm.io/gorm"
)

// AdStatus is the stored advertisement lifecycle stage. Serving eligibility
// is never stored; see Servable.
type AdStatus string

const (
	AdPendingPayment AdStatus = "pending_payment"
	AdPending        AdStatus = "pending"
	AdExpired        AdStatus = "expired"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// PackageType is the publisher tier a package purchase or elevation request
// targets.
type PackageType string

const (
	PackageBasic        PackageType = "basic"
	PackageProfessional PackageType = "professional"
	PackageEnterprise   PackageType = "enterprise"
)

func (p PackageType) Valid() bool {
	switch p {
	case PackageBasic, PackageProfessional, PackageEnterprise:
		return true
	}
	return false
}

type Advertisement struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	OwnerID    string    `gorm:"not null;index" json:"owner_id"`
	Title      string    `json:"title"`
	Status     AdStatus  `gorm:"not null;default:'pending_payment'" json:"status"`
	IsApproved bool      `gorm:"not null;default:false" json:"is_approved"`
	IsPaid     bool      `gorm:"not null;default:false" json:"is_paid"`
	StartDate  time.Time `gorm:"not null" json:"start_date"`
	EndDate    time.Time `gorm:"not null" json:"end_date"`
	Placement  string    `gorm:"index" json:"placement"`
	PaymentID  string    `json:"payment_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ElevationRequest is a user-initiated, admin-resolved role/tier request.
// Resolution is one-way: pending -> approved|rejected, never back.
type ElevationRequest struct {
	ID          string        `gorm:"primaryKey" json:"id"`
	UserID      string        `gorm:"not null;index" json:"user_id"`
	PackageType PackageType   `json:"package_type,omitempty"`
	Status      RequestStatus `gorm:"not null;default:'pending'" json:"status"`
	// OpenUserID mirrors UserID while the request is pending and is cleared
	// on resolution. Its unique index is what enforces "one open request per
	// user" under concurrent submits (NULLs never collide).
	OpenUserID  *string    `gorm:"uniqueIndex" json:"-"`
	Message     string     `json:"message,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// PackagePurchase records a settled publisher-package payment.
type PackagePurchase struct {
	ID          string      `gorm:"primaryKey" json:"id"`
	UserID      string      `gorm:"not null;index" json:"user_id"`
	PackageType PackageType `gorm:"not null" json:"package_type"`
	PaymentID   string      `gorm:"not null" json:"payment_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PaymentSettlement is the idempotency guard: one row per external
// payment-intent id. Its primary-key uniqueness is the serialization point
// that makes at-least-once webhook delivery safe.
type PaymentSettlement struct {
	PaymentIntentID string    `gorm:"primaryKey" json:"payment_intent_id"`
	UserID          string    `gorm:"not null" json:"user_id"`
	Purpose         string    `gorm:"not null" json:"purpose"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Advertisement) TableName() string     { return "advertisements" }
func (ElevationRequest) TableName() string  { return "elevation_requests" }
func (PackagePurchase) TableName() string   { return "package_purchases" }
func (PaymentSettlement) TableName() string { return "payment_settlements" }

// Init migrates the entitlement tables.
func Init(db *gorm.DB) error {
	return db.AutoMigrate(
		&Advertisement{},
		&ElevationRequest{},
		&PackagePurchase{},
		&PaymentSettlement{},
	)
}
