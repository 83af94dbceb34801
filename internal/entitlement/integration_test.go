package entitlement_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/OpenColumn/OC-Backend/internal/entitlement"
	"github.com/OpenColumn/OC-Backend/internal/identity"
)

// openPostgres connects to the database named by TEST_DATABASE_URL, skipping
// the test when it is unset. These tests exercise the guarantees that only a
// real concurrent store can demonstrate; the sqlite suite covers the rest.
func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, identity.Init(db))
	require.NoError(t, entitlement.Init(db))
	return db
}

func TestSettlePaymentConcurrentDeliveries(t *testing.T) {
	db := openPostgres(t)
	m := entitlement.NewMachine(db, nil)
	user := seedUser(t, db, identity.RoleUser)

	s := entitlement.Settlement{
		PaymentIntentID: "pi_" + uuid.NewString(),
		UserID:          user.UserID,
		Purpose:         entitlement.Purpose{Kind: entitlement.PurposeAdvertiserUpgrade},
	}

	type outcome struct {
		result entitlement.SettleResult
		err    error
	}
	const deliveries = 8
	results := make(chan outcome, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := m.SettlePayment(context.Background(), s)
			results <- outcome{result, err}
		}()
	}
	wg.Wait()
	close(results)

	var applied int
	for o := range results {
		require.NoError(t, o.err)
		if o.result == entitlement.Applied {
			applied++
		}
	}
	require.Equal(t, 1, applied)
	require.EqualValues(t, 1, countSettlements(t, db, s.PaymentIntentID))
	require.Equal(t, identity.RoleAdvertiser, loadUser(t, db, user.UserID).Role)
}

func TestResolveElevationConcurrentAdmins(t *testing.T) {
	db := openPostgres(t)
	m := entitlement.NewMachine(db, nil)
	user := seedUser(t, db, identity.RoleUser)

	req, err := m.RequestElevation(context.Background(), user.UserID, entitlement.PackageBasic)
	require.NoError(t, err)

	const admins = 4
	errs := make(chan error, admins)

	var wg sync.WaitGroup
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ResolveElevation(context.Background(), req.ID, entitlement.DecisionApprove, uuid.NewString(), "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		default:
			require.ErrorIs(t, err, entitlement.ErrNotPending)
			lost++
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, admins-1, lost)
}

func TestRequestElevationConcurrentSubmits(t *testing.T) {
	db := openPostgres(t)
	m := entitlement.NewMachine(db, nil)
	user := seedUser(t, db, identity.RoleUser)

	const submits = 4
	errs := make(chan error, submits)

	var wg sync.WaitGroup
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RequestElevation(context.Background(), user.UserID, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created int
	for err := range errs {
		if err == nil {
			created++
		} else {
			require.ErrorIs(t, err, entitlement.ErrAlreadyPending)
		}
	}
	require.Equal(t, 1, created)
}

func TestListServingPlacementFilter(t *testing.T) {
	db := openPostgres(t)
	owner := seedUser(t, db, identity.RoleAdvertiser)
	now := time.Now()

	placement := "it_" + uuid.NewString()[:8]
	other := "it_" + uuid.NewString()[:8]

	mkAd := func(p string) entitlement.Advertisement {
		ad := entitlement.Advertisement{
			ID:         uuid.NewString(),
			OwnerID:    owner.UserID,
			Title:      "campaign",
			Status:     entitlement.AdPending,
			IsApproved: true,
			IsPaid:     true,
			StartDate:  now.Add(-time.Hour),
			EndDate:    now.Add(time.Hour),
			Placement:  p,
		}
		require.NoError(t, db.Create(&ad).Error)
		return ad
	}
	want := mkAd(placement)
	mkAd(other)

	ads, err := entitlement.ListServing(context.Background(), db, []string{placement}, now)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, want.ID, ads[0].ID)

	ads, err = entitlement.ListServing(context.Background(), db, []string{placement, other}, now)
	require.NoError(t, err)
	require.Len(t, ads, 2)
}
