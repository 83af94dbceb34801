package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenColumn/OC-Backend/internal/identity"
	"github.com/OpenColumn/OC-Backend/internal/logging"
	"github.com/OpenColumn/OC-Backend/internal/notify"
)

// Machine is the only component allowed to mutate User.Role, User.HasPaid,
// User.PublisherPackage, advertisement approval/payment flags, and elevation
// request status. Handlers and the webhook processor call through it; nothing
// else writes those columns.
type Machine struct {
	DB       *gorm.DB
	Notifier notify.Notifier
}

func NewMachine(db *gorm.DB, n notify.Notifier) *Machine {
	if n == nil {
		n = notify.Nop{}
	}
	return &Machine{DB: db, Notifier: n}
}

// RequestElevation opens a pending elevation request for userID. The partial
// uniqueness on open_user_id (set while pending, cleared on resolution)
// guarantees at most one open request per user even under concurrent submits.
func (m *Machine) RequestElevation(ctx context.Context, userID string, pkg PackageType) (*ElevationRequest, error) {
	if pkg != "" && !pkg.Valid() {
		return nil, fmt.Errorf("%w: unknown package type %q", ErrInvalidPurpose, pkg)
	}

	owner := userID
	req := ElevationRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		PackageType: pkg,
		Status:      RequestPending,
		OpenUserID:  &owner,
		RequestedAt: time.Now().UTC(),
	}

	res := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "open_user_id"}},
		DoNothing: true,
	}).Create(&req)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyPending
	}
	return &req, nil
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ResolveElevation applies an admin decision exactly once. The status check
// is part of the UPDATE itself, so of two concurrent resolutions only one
// sees RowsAffected == 1; the loser gets ErrNotPending. On approval the
// user's role moves in the same transaction as the request status.
func (m *Machine) ResolveElevation(ctx context.Context, requestID string, decision Decision, adminID, message string) (*ElevationRequest, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("%w: decision %q", ErrInvalidPurpose, decision)
	}

	newStatus := RequestApproved
	if decision == DecisionReject {
		newStatus = RequestRejected
	}

	var req ElevationRequest
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&ElevationRequest{}).
			Where("id = ? AND status = ?", requestID, RequestPending).
			Updates(map[string]any{
				"status":       newStatus,
				"resolved_by":  adminID,
				"message":      message,
				"responded_at": now,
				"open_user_id": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either the id is unknown or someone else resolved it first.
			var probe ElevationRequest
			if err := tx.First(&probe, "id = ?", requestID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			return ErrNotPending
		}

		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			return err
		}

		if newStatus == RequestApproved {
			updates := map[string]any{"role": identity.RolePublisher}
			if req.PackageType != "" {
				updates["publisher_package"] = string(req.PackageType)
			}
			res := tx.Model(&identity.User{}).Where("user_id = ?", req.UserID).Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.Notifier.Publish(ctx, notify.Event{
		Type:   notify.EventElevationResolved,
		UserID: req.UserID,
		Fields: map[string]string{
			"request_id": req.ID,
			"status":     string(req.Status),
		},
	})
	return &req, nil
}

type PurposeKind string

const (
	PurposeAdvertiserUpgrade PurposeKind = "advertiser_upgrade"
	PurposePublisherPackage  PurposeKind = "publisher_package"
	PurposeAdFunding         PurposeKind = "ad_funding"
)

// Purpose is the business effect a settled payment carries.
type Purpose struct {
	Kind        PurposeKind
	PackageType PackageType // publisher_package only
	AdID        string      // ad_funding only
}

func (p Purpose) validate() error {
	switch p.Kind {
	case PurposeAdvertiserUpgrade:
		return nil
	case PurposePublisherPackage:
		if !p.PackageType.Valid() {
			return fmt.Errorf("%w: package type %q", ErrInvalidPurpose, p.PackageType)
		}
		return nil
	case PurposeAdFunding:
		if p.AdID == "" {
			return fmt.Errorf("%w: missing ad id", ErrInvalidPurpose)
		}
		return nil
	}
	return fmt.Errorf("%w: kind %q", ErrInvalidPurpose, p.Kind)
}

func (p Purpose) String() string {
	switch p.Kind {
	case PurposePublisherPackage:
		return fmt.Sprintf("%s:%s", p.Kind, p.PackageType)
	case PurposeAdFunding:
		return fmt.Sprintf("%s:%s", p.Kind, p.AdID)
	}
	return string(p.Kind)
}

type Settlement struct {
	PaymentIntentID string
	UserID          string
	Purpose         Purpose
}

type SettleResult string

const (
	Applied        SettleResult = "applied"
	AlreadyApplied SettleResult = "already_applied"
)

// SettlePayment applies a payment event's effect exactly once. The insert of
// the settlement row is an ON CONFLICT DO NOTHING on the payment-intent id:
// of any number of deliveries, concurrent or sequential, exactly one insert
// lands; the rest observe RowsAffected == 0 and report AlreadyApplied with
// no mutation. The row and the effect commit in one transaction, so a failed
// effect (e.g. ownership mismatch) also rolls the row back and a later
// corrected delivery can still apply.
func (m *Machine) SettlePayment(ctx context.Context, s Settlement) (SettleResult, error) {
	if s.PaymentIntentID == "" || s.UserID == "" {
		return "", fmt.Errorf("%w: missing payment intent or user id", ErrInvalidPurpose)
	}
	if err := s.Purpose.validate(); err != nil {
		return "", err
	}

	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := PaymentSettlement{
			PaymentIntentID: s.PaymentIntentID,
			UserID:          s.UserID,
			Purpose:         s.Purpose.String(),
			CreatedAt:       time.Now().UTC(),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_intent_id"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyApplied
		}

		return m.applyEffect(tx, s)
	})

	switch {
	case errors.Is(err, ErrAlreadyApplied):
		return AlreadyApplied, nil
	case err != nil:
		return "", err
	}

	m.Notifier.Publish(ctx, notify.Event{
		Type:   notify.EventPaymentSettled,
		UserID: s.UserID,
		Fields: map[string]string{
			"payment_intent_id": s.PaymentIntentID,
			"purpose":           s.Purpose.String(),
		},
	})
	return Applied, nil
}

func (m *Machine) applyEffect(tx *gorm.DB, s Settlement) error {
	switch s.Purpose.Kind {
	case PurposeAdvertiserUpgrade:
		return updateUser(tx, s.UserID, map[string]any{
			"has_paid": true,
			"role":     identity.RoleAdvertiser,
		})

	case PurposePublisherPackage:
		if err := updateUser(tx, s.UserID, map[string]any{
			"has_paid":          true,
			"role":              identity.RolePublisher,
			"publisher_package": string(s.Purpose.PackageType),
		}); err != nil {
			return err
		}
		return tx.Create(&PackagePurchase{
			ID:          uuid.NewString(),
			UserID:      s.UserID,
			PackageType: s.Purpose.PackageType,
			PaymentID:   s.PaymentIntentID,
			CreatedAt:   time.Now().UTC(),
		}).Error

	case PurposeAdFunding:
		var ad Advertisement
		if err := tx.First(&ad, "id = ?", s.Purpose.AdID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: advertisement %s", ErrNotFound, s.Purpose.AdID)
			}
			return err
		}
		if ad.OwnerID != s.UserID {
			return ErrOwnershipMismatch
		}
		return tx.Model(&ad).Updates(map[string]any{
			"is_paid":    true,
			"status":     AdPending,
			"payment_id": s.PaymentIntentID,
		}).Error
	}
	return fmt.Errorf("%w: kind %q", ErrInvalidPurpose, s.Purpose.Kind)
}

func updateUser(tx *gorm.DB, userID string, updates map[string]any) error {
	res := tx.Model(&identity.User{}).Where("user_id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}

// ApproveAdvertisement marks an ad approved. Approval and payment are
// independent; the ad serves only once both flags hold and the date window
// contains now.
func (m *Machine) ApproveAdvertisement(ctx context.Context, adID, adminID string) (*Advertisement, error) {
	var ad Advertisement
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&ad, "id = ?", adID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: advertisement %s", ErrNotFound, adID)
			}
			return err
		}
		if ad.IsApproved {
			return nil // idempotent
		}
		return tx.Model(&ad).Update("is_approved", true).Error
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("advertisement approved", "ad_id", adID, "admin_id", adminID)
	return &ad, nil
}
