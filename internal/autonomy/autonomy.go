package autonomy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/bulk-logistics/internal/ingest"
	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/notify"
	"github.com/example/bulk-logistics/internal/simclock"
	"github.com/example/bulk-logistics/internal/storage"
)

// DailyPlanner produces the day's shipment plan.
type DailyPlanner interface {
	PlanDailyShipments(ctx context.Context) (models.DailyPlan, error)
}

// Service drives the company on its own: every simulated day it plans
// shipments, commits them, moves due shipments through their lifecycle,
// and queues partner notifications.
type Service struct {
	Planner DailyPlanner
	Store   storage.Store
	Clock   *simclock.SimClock
	Lock    RunLock
	Events  ingest.EventPublisher
	WS      *notify.WSRegistry
	Logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	lastDay time.Time
}

// Start begins the simulation loop. The clock is anchored to now; the
// first day runs immediately.
func (s *Service) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	s.Clock.Initialize(time.Now())
	s.lastDay = time.Time{}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(loopCtx)
	s.Logger.Info("simulation started", "day_duration", s.Clock.DayDuration.String())
	return true
}

// Stop halts the loop and resets the clock.
func (s *Service) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	s.Clock.Reset()
	s.Logger.Info("simulation stopped")
	return true
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Service) loop(ctx context.Context) {
	// poll well below the day duration so day boundaries are not missed
	interval := s.Clock.DayDuration / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today, err := s.Clock.CurrentDate()
			if err != nil {
				continue
			}
			s.mu.Lock()
			isNewDay := today.After(s.lastDay)
			if isNewDay {
				s.lastDay = today
			}
			s.mu.Unlock()
			if isNewDay {
				s.RunDay(ctx, today)
			}
		}
	}
}

// RunDay executes one simulated day end to end. Safe to call directly
// for a manual trigger; the run lock keeps concurrent invocations out.
func (s *Service) RunDay(ctx context.Context, today time.Time) {
	release, ok, err := s.Lock.Acquire(ctx)
	if err != nil {
		s.Logger.Error("acquire run lock", "error", err)
		return
	}
	if !ok {
		s.Logger.Info("planning already in progress elsewhere, skipping day",
			"date", today.Format("2006-01-02"))
		return
	}
	defer release()

	// vehicles bought on an earlier day come online before planning
	if n, err := s.Store.ActivateVehicles(ctx, today); err != nil {
		s.Logger.Error("activate vehicles", "error", err)
	} else if n > 0 {
		s.Logger.Info("vehicles activated", "count", n)
	}

	s.planAndCommit(ctx, today)
	s.dispatchDue(ctx, today)
	s.deliverDue(ctx, today)
}

// planAndCommit runs the planner and persists each vehicle-day plan.
// One failed commit does not abandon the rest of the day's plans.
func (s *Service) planAndCommit(ctx context.Context, today time.Time) {
	plan, err := s.Planner.PlanDailyShipments(ctx)
	if err != nil {
		s.Logger.Error("planning run failed", "date", today.Format("2006-01-02"), "error", err)
		return
	}
	for _, sp := range plan.CreatedShipmentsPlan {
		shipment, err := s.Store.CommitShipmentPlan(ctx, sp)
		if err != nil {
			s.Logger.Error("commit shipment plan failed",
				"vehicle_id", sp.Vehicle.ID, "error", err)
			continue
		}
		s.publish(models.ShipmentEvent{
			EventID:      uuid.NewString(),
			Type:         "SHIPMENT_PLANNED",
			ShipmentID:   shipment.ID,
			VehicleID:    shipment.VehicleID,
			DispatchDate: shipment.DispatchDate,
		})
	}
}

// dispatchDue flips due shipments to PICKED_UP and queues pickup
// notifications for the origin side.
func (s *Service) dispatchDue(ctx context.Context, today time.Time) {
	due, err := s.Store.DispatchDueShipments(ctx, today)
	if err != nil {
		s.Logger.Error("load dispatch-due shipments", "error", err)
		return
	}
	for _, shipment := range due {
		updated, err := s.Store.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentPickedUp)
		if err != nil {
			s.Logger.Error("mark shipment picked up", "shipment_id", shipment.ID, "error", err)
			continue
		}
		s.notifyLifecycle(ctx, updated, "PICKED_UP", "PICKUP")
	}
}

// deliverDue completes shipments dispatched on an earlier day and
// queues delivery notifications for the destination side.
func (s *Service) deliverDue(ctx context.Context, today time.Time) {
	due, err := s.Store.DeliveryDueShipments(ctx, today)
	if err != nil {
		s.Logger.Error("load delivery-due shipments", "error", err)
		return
	}
	for _, shipment := range due {
		updated, err := s.Store.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentDelivered)
		if err != nil {
			s.Logger.Error("mark shipment delivered", "shipment_id", shipment.ID, "error", err)
			continue
		}
		s.notifyLifecycle(ctx, updated, "DELIVERED", "DELIVERY")
	}
}

func (s *Service) notifyLifecycle(ctx context.Context, shipment *models.Shipment, eventType, notificationType string) {
	items, err := s.Store.ShipmentItems(ctx, shipment.ID)
	if err != nil {
		s.Logger.Error("load shipment items", "shipment_id", shipment.ID, "error", err)
		items = nil
	}
	payloadItems := make([]models.Item, 0, len(items))
	totalQuantity := 0
	for _, it := range items {
		payloadItems = append(payloadItems, models.Item{Name: it.ItemName, Quantity: it.Quantity})
		totalQuantity += it.Quantity
	}

	if err := s.Store.EnqueueNotification(ctx, models.LogisticsNotification{
		ID:       uuid.NewString(),
		Type:     notificationType,
		Quantity: totalQuantity,
		Items:    payloadItems,
	}); err != nil {
		s.Logger.Error("enqueue notification", "shipment_id", shipment.ID, "error", err)
	}

	s.publish(models.ShipmentEvent{
		EventID:      uuid.NewString(),
		Type:         eventType,
		ShipmentID:   shipment.ID,
		VehicleID:    shipment.VehicleID,
		DispatchDate: shipment.DispatchDate,
		Items:        payloadItems,
	})
}

func (s *Service) publish(ev models.ShipmentEvent) {
	if s.Events != nil {
		if err := s.Events.PublishShipmentEvent(ev); err != nil {
			s.Logger.Warn("publish shipment event", "event", ev.Type, "error", err)
		}
	}
	if s.WS != nil {
		s.WS.Broadcast(ev)
	}
}
