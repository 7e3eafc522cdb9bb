package autonomy

import (
	"context"
	"testing"
	"time"

	"github.com/example/bulk-logistics/internal/logging"
	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/planner"
	"github.com/example/bulk-logistics/internal/simclock"
	"github.com/example/bulk-logistics/internal/storage"
)

type capturedEvents struct {
	events []models.ShipmentEvent
}

func (c *capturedEvents) PublishShipmentEvent(ev models.ShipmentEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *capturedEvents) Close() error { return nil }

func (c *capturedEvents) ofType(t string) int {
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func seedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.SeedVehicles(ctx, []models.Vehicle{{
		ID: 1, IsActive: true, DailyOperationalCost: 500,
		Type: models.VehicleType{
			ID: 1, Name: "large_truck",
			CapacityClass: models.CapacityWeight, MaximumCapacity: 5000,
			MaxPickupsPerDay: 1, MaxDropoffsPerDay: 1,
			TripProfile: models.TripSingle,
		},
	}}); err != nil {
		t.Fatal(err)
	}
	req := &models.PickupRequest{
		RequestingCompany:  "electronics-factory",
		OriginCompany:      "copper-mine",
		DestinationCompany: "electronics-factory",
		Cost:               750,
		PaymentStatus:      models.PaymentPending,
		PaymentReferenceID: "ref-1",
		RequestDate:        time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC),
		Items: []models.RequestItem{
			{ItemName: "Copper", Quantity: 5000, CapacityClass: models.CapacityWeight},
		},
	}
	if err := store.CreatePickupRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ConfirmPaymentByReference(ctx, "ref-1"); err != nil {
		t.Fatal(err)
	}
	return store
}

func newService(store *storage.MemoryStore, day time.Time, events *capturedEvents) *Service {
	logger := logging.NewLogger("error")
	return &Service{
		Planner: &planner.Planner{
			Requests: store,
			Vehicles: store,
			Clock:    simclock.Fixed{Date: day},
			Logger:   logger,
		},
		Store:  store,
		Lock:   NewLocalRunLock(),
		Events: events,
		Logger: logger,
	}
}

func TestRunDayPlansCommitsAndDispatches(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	store := seedStore(t)
	events := &capturedEvents{}
	svc := newService(store, day1, events)

	svc.RunDay(ctx, day1)

	// the request got planned, committed and picked up the same day
	reqs, _ := store.PickupRequestsByCompany(ctx, "copper-mine")
	if len(reqs) != 1 || reqs[0].CompletionDate == nil {
		t.Fatalf("expected completed request, got %+v", reqs)
	}
	shipment, err := store.ShipmentByID(ctx, 1)
	if err != nil {
		t.Fatalf("shipment not created: %v", err)
	}
	if shipment.Status != models.ShipmentPickedUp {
		t.Fatalf("expected PICKED_UP after dispatch day, got %s", shipment.Status)
	}
	if events.ofType("SHIPMENT_PLANNED") != 1 || events.ofType("PICKED_UP") != 1 {
		t.Fatalf("unexpected events: %+v", events.events)
	}

	pending, _ := store.PendingNotifications(ctx, 10)
	if len(pending) != 1 || pending[0].Payload.Type != "PICKUP" {
		t.Fatalf("expected one PICKUP notification, got %+v", pending)
	}
	// quantity is the goods total moved, not the item line count
	if got := pending[0].Payload.Quantity; got != 5000 {
		t.Fatalf("expected notification quantity 5000, got %d", got)
	}
}

func TestRunDayDeliversNextDay(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	store := seedStore(t)
	events := &capturedEvents{}
	svc := newService(store, day1, events)

	svc.RunDay(ctx, day1)
	svc.RunDay(ctx, day2)

	shipment, _ := store.ShipmentByID(ctx, 1)
	if shipment.Status != models.ShipmentDelivered {
		t.Fatalf("expected DELIVERED on day two, got %s", shipment.Status)
	}
	if events.ofType("DELIVERED") != 1 {
		t.Fatalf("expected one DELIVERED event, got %+v", events.events)
	}

	pending, _ := store.PendingNotifications(ctx, 10)
	var types []string
	for _, q := range pending {
		types = append(types, q.Payload.Type)
	}
	if len(types) != 2 || types[0] != "PICKUP" || types[1] != "DELIVERY" {
		t.Fatalf("expected PICKUP then DELIVERY notifications, got %v", types)
	}
}

func TestRunDayIsIdempotentWithinADay(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	store := seedStore(t)
	events := &capturedEvents{}
	svc := newService(store, day1, events)

	svc.RunDay(ctx, day1)
	svc.RunDay(ctx, day1)

	items, _ := store.ShipmentItems(ctx, 1)
	if len(items) != 1 {
		t.Fatalf("re-running a day must not duplicate assignments, got %d items", len(items))
	}
}

func TestLocalRunLockExcludes(t *testing.T) {
	lock := NewLocalRunLock()
	release, ok, err := lock.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := lock.Acquire(context.Background()); ok {
		t.Fatal("second acquire should fail while held")
	}
	release()
	if _, ok, _ := lock.Acquire(context.Background()); !ok {
		t.Fatal("acquire should succeed after release")
	}
}
