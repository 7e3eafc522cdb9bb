package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/bulk-logistics/internal/models"
)

var (
	ErrNotFound             = errors.New("storage: not found")
	ErrDuplicateTransaction = errors.New("storage: transaction already recorded")
	ErrInvalidTransition    = errors.New("storage: invalid shipment status transition")
)

// QueuedNotification is a partner notification waiting for delivery.
// Rows survive process restarts so a flaky partner endpoint never loses
// a pickup or delivery announcement. Each failure pushes NextAttemptAt
// out exponentially; PendingNotifications only returns due rows.
type QueuedNotification struct {
	ID            int64
	Payload       models.LogisticsNotification
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// nextBackoff is the delay before a failed notification becomes due
// again. Doubles per attempt, capped at ten minutes.
func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	d := time.Second * time.Duration(1<<attempts)
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

// Store is the durable persistence surface of the coordinator.
type Store interface {
	// Intake and read APIs.
	CreatePickupRequest(ctx context.Context, req *models.PickupRequest) error
	PickupRequestByID(ctx context.Context, id int64) (*models.PickupRequest, error)
	PickupRequestsByCompany(ctx context.Context, company string) ([]models.PickupRequest, error)
	ConfirmPaymentByReference(ctx context.Context, paymentRef string) (*models.PickupRequest, error)

	// Planner input pools.
	PaidUnshippedRequests(ctx context.Context) ([]models.PickupRequest, error)
	AllVehicles(ctx context.Context) ([]models.Vehicle, error)
	AvailableVehicles(ctx context.Context) ([]models.Vehicle, error)
	SeedVehicles(ctx context.Context, vehicles []models.Vehicle) error
	// ActivateVehicles flips inactive vehicles purchased before the
	// given date to active, returning how many changed.
	ActivateVehicles(ctx context.Context, before time.Time) (int, error)

	// Plan commit and shipment lifecycle.
	CommitShipmentPlan(ctx context.Context, plan models.ShipmentPlan) (*models.Shipment, error)
	ShipmentByID(ctx context.Context, id int64) (*models.Shipment, error)
	ShipmentItems(ctx context.Context, shipmentID int64) ([]models.RequestItem, error)
	DispatchDueShipments(ctx context.Context, date time.Time) ([]models.Shipment, error)
	DeliveryDueShipments(ctx context.Context, date time.Time) ([]models.Shipment, error)
	// ListShipments filters by status; empty status returns everything.
	ListShipments(ctx context.Context, status models.ShipmentStatus) ([]models.Shipment, error)
	UpdateShipmentStatus(ctx context.Context, id int64, status models.ShipmentStatus) (*models.Shipment, error)

	// Bank ledger.
	RecordTransaction(ctx context.Context, tx *models.BankNotification) error
	Transactions(ctx context.Context) ([]models.BankNotification, error)

	// Notification queue. PendingNotifications returns only rows whose
	// next attempt is due and whose attempt budget remains.
	EnqueueNotification(ctx context.Context, n models.LogisticsNotification) error
	PendingNotifications(ctx context.Context, limit int) ([]QueuedNotification, error)
	MarkNotificationSent(ctx context.Context, id int64) error
	MarkNotificationFailed(ctx context.Context, id int64, reason string) error
}

// validTransition enforces the PENDING -> PICKED_UP -> DELIVERED lifecycle.
func validTransition(from, to models.ShipmentStatus) bool {
	switch from {
	case models.ShipmentPending:
		return to == models.ShipmentPickedUp
	case models.ShipmentPickedUp:
		return to == models.ShipmentDelivered
	default:
		return false
	}
}
