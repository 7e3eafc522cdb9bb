package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/bulk-logistics/internal/models"
)

func newTestRequest() *models.PickupRequest {
	return &models.PickupRequest{
		RequestingCompany:  "electronics-factory",
		OriginCompany:      "copper-mine",
		DestinationCompany: "electronics-factory",
		Cost:               750,
		PaymentStatus:      models.PaymentPending,
		PaymentReferenceID: "ref-123",
		RequestDate:        time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC),
		Items: []models.RequestItem{
			{ItemName: "Copper", Quantity: 5000, CapacityClass: models.CapacityWeight},
			{ItemName: "Copper", Quantity: 3000, CapacityClass: models.CapacityWeight},
		},
	}
}

func testVehicle(id int64) models.Vehicle {
	return models.Vehicle{
		ID: id, IsActive: true,
		Type: models.VehicleType{
			ID: 1, Name: "large_truck",
			CapacityClass: models.CapacityWeight, MaximumCapacity: 5000,
			TripProfile: models.TripSingle,
		},
	}
}

func TestCreateAndFetchPickupRequest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	req := newTestRequest()
	if err := store.CreatePickupRequest(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.ID == 0 || req.Items[0].ID == 0 {
		t.Fatal("expected ids assigned")
	}

	got, err := store.PickupRequestByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got.Items) != 2 || got.PaymentStatus != models.PaymentPending {
		t.Fatalf("unexpected request: %+v", got)
	}

	byCompany, err := store.PickupRequestsByCompany(ctx, "copper-mine")
	if err != nil || len(byCompany) != 1 {
		t.Fatalf("expected 1 request for origin company, got %d err %v", len(byCompany), err)
	}
}

func TestConfirmPaymentMakesRequestPlannable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newTestRequest()
	if err := store.CreatePickupRequest(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	pool, _ := store.PaidUnshippedRequests(ctx)
	if len(pool) != 0 {
		t.Fatal("pending request must not be plannable")
	}

	if _, err := store.ConfirmPaymentByReference(ctx, "ref-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	pool, _ = store.PaidUnshippedRequests(ctx)
	if len(pool) != 1 {
		t.Fatalf("expected 1 plannable request, got %d", len(pool))
	}

	if _, err := store.ConfirmPaymentByReference(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitShipmentPlanFullAssignment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newTestRequest()
	if err := store.CreatePickupRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ConfirmPaymentByReference(ctx, "ref-123"); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2050, 1, 2, 0, 0, 0, 0, time.UTC)
	plan := models.ShipmentPlan{
		Vehicle:      testVehicle(1),
		DispatchDate: day,
		Items: []models.PlannedItem{
			{Item: req.Items[0], Quantity: 5000},
			{Item: req.Items[1], Quantity: 3000},
		},
	}
	shipment, err := store.CommitShipmentPlan(ctx, plan)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if shipment.Status != models.ShipmentPending {
		t.Fatalf("new shipment should be PENDING, got %s", shipment.Status)
	}

	got, _ := store.PickupRequestByID(ctx, req.ID)
	if got.Unassigned() {
		t.Fatal("all items should carry a shipment reference")
	}
	if got.CompletionDate == nil {
		t.Fatal("fully assigned request should be completed")
	}

	// same vehicle-day commits reuse the shipment row
	again, err := store.CommitShipmentPlan(ctx, models.ShipmentPlan{
		Vehicle: testVehicle(1), DispatchDate: day,
	})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != shipment.ID {
		t.Fatalf("expected shipment reuse, got %d and %d", shipment.ID, again.ID)
	}

	items, err := store.ShipmentItems(ctx, shipment.ID)
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 shipment items, got %d err %v", len(items), err)
	}
}

func TestCommitShipmentPlanPartialSplitsItem(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	req := newTestRequest()
	if err := store.CreatePickupRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ConfirmPaymentByReference(ctx, "ref-123"); err != nil {
		t.Fatal(err)
	}

	plan := models.ShipmentPlan{
		Vehicle:      testVehicle(1),
		DispatchDate: time.Date(2050, 1, 2, 0, 0, 0, 0, time.UTC),
		Items:        []models.PlannedItem{{Item: req.Items[0], Quantity: 2000}},
	}
	if _, err := store.CommitShipmentPlan(ctx, plan); err != nil {
		t.Fatal(err)
	}

	got, _ := store.PickupRequestByID(ctx, req.ID)
	if got.CompletionDate != nil {
		t.Fatal("partially assigned request must not be completed")
	}
	var moved, remainder bool
	for _, item := range got.Items {
		if item.ShipmentID != nil && item.Quantity == 2000 {
			moved = true
		}
		if item.ShipmentID == nil && item.Quantity == 3000 && item.ID == req.Items[0].ID {
			remainder = true
		}
	}
	if !moved || !remainder {
		t.Fatalf("expected a 2000 moved split and 3000 remainder, got %+v", got.Items)
	}
}

func TestShipmentLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := time.Date(2050, 1, 2, 0, 0, 0, 0, time.UTC)
	shipment, err := store.CommitShipmentPlan(ctx, models.ShipmentPlan{
		Vehicle: testVehicle(1), DispatchDate: day,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentDelivered); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition PENDING->DELIVERED, got %v", err)
	}
	if _, err := store.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentPickedUp); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if _, err := store.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentDelivered); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := store.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentPickedUp); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition DELIVERED->PICKED_UP, got %v", err)
	}

	due, _ := store.DispatchDueShipments(ctx, day)
	if len(due) != 0 {
		t.Fatal("delivered shipment must not be dispatch-due")
	}
}

func TestDispatchAndDeliveryDueQueries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day1 := time.Date(2050, 1, 2, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	s, _ := store.CommitShipmentPlan(ctx, models.ShipmentPlan{Vehicle: testVehicle(1), DispatchDate: day1})

	due, _ := store.DispatchDueShipments(ctx, day1)
	if len(due) != 1 {
		t.Fatalf("expected dispatch due on its day, got %d", len(due))
	}
	if _, err := store.UpdateShipmentStatus(ctx, s.ID, models.ShipmentPickedUp); err != nil {
		t.Fatal(err)
	}

	delivery, _ := store.DeliveryDueShipments(ctx, day1)
	if len(delivery) != 0 {
		t.Fatal("picked-up shipment is not delivery-due on its dispatch day")
	}
	delivery, _ = store.DeliveryDueShipments(ctx, day2)
	if len(delivery) != 1 {
		t.Fatalf("expected delivery due the next day, got %d", len(delivery))
	}
}

func TestActivateVehiclesPurchasedEarlier(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day1 := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	bought := testVehicle(9)
	bought.IsActive = false
	bought.PurchaseDate = day1
	if err := store.SeedVehicles(ctx, []models.Vehicle{bought}); err != nil {
		t.Fatal(err)
	}

	if n, _ := store.ActivateVehicles(ctx, day1); n != 0 {
		t.Fatalf("same-day purchase must stay inactive, activated %d", n)
	}
	n, err := store.ActivateVehicles(ctx, day2)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 activation, got %d err %v", n, err)
	}
	available, _ := store.AvailableVehicles(ctx)
	if len(available) != 1 {
		t.Fatalf("expected vehicle available after activation, got %d", len(available))
	}
}

func TestRecordTransactionDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tx := &models.BankNotification{TransactionNumber: "txn-1", Status: "SUCCESS", Amount: 750}

	if err := store.RecordTransaction(ctx, tx); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := store.RecordTransaction(ctx, tx); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestNotificationQueueRetryAccounting(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	n := models.LogisticsNotification{ID: "n-1", Type: "PICKUP", Quantity: 5000,
		Items: []models.Item{{Name: "Copper", Quantity: 5000}}}
	if err := store.EnqueueNotification(ctx, n); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < maxNotificationAttempts; i++ {
		pending, _ := store.PendingNotifications(ctx, 10)
		if len(pending) != 1 {
			t.Fatalf("attempt %d: expected 1 pending, got %d", i, len(pending))
		}
		if err := store.MarkNotificationFailed(ctx, pending[0].ID, "partner down"); err != nil {
			t.Fatal(err)
		}
		now = now.Add(nextBackoff(i + 1))
	}
	pending, _ := store.PendingNotifications(ctx, 10)
	if len(pending) != 0 {
		t.Fatal("exhausted notification must drop out of the pending set")
	}
}

func TestNotificationBackoffDelaysRetry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.EnqueueNotification(ctx, models.LogisticsNotification{ID: "n-1", Type: "DELIVERY"}); err != nil {
		t.Fatal(err)
	}
	pending, _ := store.PendingNotifications(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("fresh notification should be due immediately, got %d", len(pending))
	}
	if err := store.MarkNotificationFailed(ctx, pending[0].ID, "partner down"); err != nil {
		t.Fatal(err)
	}

	if pending, _ = store.PendingNotifications(ctx, 10); len(pending) != 0 {
		t.Fatal("failed notification must not be due before its backoff elapses")
	}
	now = now.Add(nextBackoff(1))
	if pending, _ = store.PendingNotifications(ctx, 10); len(pending) != 1 {
		t.Fatal("notification should become due once the backoff elapses")
	}

	// the delay doubles on the next failure
	if err := store.MarkNotificationFailed(ctx, pending[0].ID, "partner down"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(nextBackoff(1))
	if pending, _ = store.PendingNotifications(ctx, 10); len(pending) != 0 {
		t.Fatal("second backoff must be longer than the first")
	}
	now = now.Add(nextBackoff(2))
	if pending, _ = store.PendingNotifications(ctx, 10); len(pending) != 1 {
		t.Fatal("notification should come back after the doubled backoff")
	}
}
