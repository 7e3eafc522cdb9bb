package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/observability"
	"github.com/example/bulk-logistics/internal/simclock"
)

// RequestSource yields the pool of confirmed requests that still have
// unassigned items.
type RequestSource interface {
	PaidUnshippedRequests(ctx context.Context) ([]models.PickupRequest, error)
}

// VehiclePool yields the active vehicles for the current simulated day.
type VehiclePool interface {
	AvailableVehicles(ctx context.Context) ([]models.Vehicle, error)
}

// Planner turns the day's paid-and-unshipped requests into per-vehicle
// shipment plans. The computation is pure and in-memory; committing the
// resulting plans is the caller's job.
type Planner struct {
	Requests RequestSource
	Vehicles VehiclePool
	Clock    simclock.Clock
	Logger   *slog.Logger
}

// PlanDailyShipments runs the two-pass packing algorithm.
//
// Pass 1 walks requests oldest-first and commits a request only when
// every one of its outstanding items fits the fleet's remaining
// capacity, so whole requests win over fragments. Pass 2 then packs
// whatever single items (or parts of them) still fit. Capacity and
// trip budgets carry over between the passes.
//
// The run is all-or-nothing only with respect to reading its inputs: a
// pool that cannot be loaded aborts the run with an error and no plan.
// Capacity shortfalls are ordinary results, not errors.
func (p *Planner) PlanDailyShipments(ctx context.Context) (models.DailyPlan, error) {
	started := time.Now()
	observability.PlanningRuns.Inc()
	defer func() {
		observability.PlanningDuration.Observe(time.Since(started).Seconds())
	}()

	today, err := p.Clock.CurrentDate()
	if err != nil {
		return models.DailyPlan{}, fmt.Errorf("resolve current date: %w", err)
	}
	requests, err := p.Requests.PaidUnshippedRequests(ctx)
	if err != nil {
		return models.DailyPlan{}, fmt.Errorf("load request pool: %w", err)
	}
	vehicles, err := p.Vehicles.AvailableVehicles(ctx)
	if err != nil {
		return models.DailyPlan{}, fmt.Errorf("load vehicle pool: %w", err)
	}

	// FIFO fairness: earliest request date first, id as tiebreak.
	sort.SliceStable(requests, func(i, j int) bool {
		if !requests[i].RequestDate.Equal(requests[j].RequestDate) {
			return requests[i].RequestDate.Before(requests[j].RequestDate)
		}
		return requests[i].ID < requests[j].ID
	})

	fleet := newFleetState(vehicles)
	planned := make(map[int64]bool)

	// Pass 1: whole requests only.
	for i := range requests {
		req := &requests[i]
		items := outstandingItems(req)
		if len(items) == 0 {
			continue
		}
		trial := fleet.clone()
		if trial.placeAll(items, req.OriginCompany, req.DestinationCompany) {
			fleet = trial
			planned[req.ID] = true
		}
	}

	// Pass 2: best-effort partial packing of whatever is left.
	for i := range requests {
		req := &requests[i]
		if planned[req.ID] {
			continue
		}
		allAssigned := true
		for _, item := range outstandingItems(req) {
			assigned := fleet.placePartial(item, req.OriginCompany, req.DestinationCompany)
			if assigned < item.Quantity {
				allAssigned = false
			}
		}
		if allAssigned && len(outstandingItems(req)) > 0 {
			planned[req.ID] = true
		}
	}

	plan := models.DailyPlan{PlannedRequestIDs: make([]int64, 0, len(planned))}
	for i := range requests {
		if planned[requests[i].ID] {
			plan.PlannedRequestIDs = append(plan.PlannedRequestIDs, requests[i].ID)
		}
	}
	plan.CreatedShipmentsPlan = fleet.shipmentPlans(today)

	observability.RequestsPlanned.Add(float64(len(plan.PlannedRequestIDs)))
	observability.ShipmentsPlanned.Add(float64(len(plan.CreatedShipmentsPlan)))
	observability.FleetUtilization.Set(fleet.utilization())

	if p.Logger != nil {
		p.Logger.Info("planning run complete",
			"date", today.Format("2006-01-02"),
			"requests_considered", len(requests),
			"requests_planned", len(plan.PlannedRequestIDs),
			"shipment_plans", len(plan.CreatedShipmentsPlan),
		)
	}
	return plan, nil
}

// outstandingItems filters a request down to items that still need a
// ride. Items already holding a shipment reference are never reassigned.
func outstandingItems(req *models.PickupRequest) []models.RequestItem {
	out := make([]models.RequestItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ShipmentID == nil && it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out
}

// vehicleState tracks one vehicle's consumption across both passes of a
// single planning run.
type vehicleState struct {
	vehicle           models.Vehicle
	capacityRemaining int
	origins           map[string]bool
	destinations      map[string]bool
	items             []models.PlannedItem
}

func (s *vehicleState) clone() *vehicleState {
	c := &vehicleState{
		vehicle:           s.vehicle,
		capacityRemaining: s.capacityRemaining,
		origins:           make(map[string]bool, len(s.origins)),
		destinations:      make(map[string]bool, len(s.destinations)),
		items:             append([]models.PlannedItem(nil), s.items...),
	}
	for k := range s.origins {
		c.origins[k] = true
	}
	for k := range s.destinations {
		c.destinations[k] = true
	}
	return c
}

// canVisit checks the distinct-stop budgets. A zero or negative limit
// means the vehicle type has no daily stop restriction.
func (s *vehicleState) canVisit(origin, destination string) bool {
	maxP := s.vehicle.Type.MaxPickupsPerDay
	if !s.origins[origin] && maxP > 0 && len(s.origins) >= maxP {
		return false
	}
	maxD := s.vehicle.Type.MaxDropoffsPerDay
	if !s.destinations[destination] && maxD > 0 && len(s.destinations) >= maxD {
		return false
	}
	return true
}

func (s *vehicleState) assign(item models.RequestItem, quantity int, origin, destination string) {
	s.capacityRemaining -= quantity
	s.origins[origin] = true
	s.destinations[destination] = true
	s.items = append(s.items, models.PlannedItem{Item: item, Quantity: quantity})
}

type fleetState []*vehicleState

func newFleetState(vehicles []models.Vehicle) fleetState {
	fleet := make(fleetState, 0, len(vehicles))
	for _, v := range vehicles {
		if !v.IsActive || v.Type.MaximumCapacity <= 0 {
			continue
		}
		fleet = append(fleet, &vehicleState{
			vehicle:           v,
			capacityRemaining: v.Type.MaximumCapacity,
			origins:           make(map[string]bool),
			destinations:      make(map[string]bool),
		})
	}
	return fleet
}

func (f fleetState) clone() fleetState {
	out := make(fleetState, len(f))
	for i, s := range f {
		out[i] = s.clone()
	}
	return out
}

// placeAll attempts to seat every item in full; mutations are only
// meaningful when the caller operates on a trial clone.
func (f fleetState) placeAll(items []models.RequestItem, origin, destination string) bool {
	for _, item := range items {
		if !f.placeWhole(item, origin, destination) {
			return false
		}
	}
	return true
}

// placeWhole seats one item on a single vehicle, preferring the tightest
// fit so large leftovers stay available for bigger items.
func (f fleetState) placeWhole(item models.RequestItem, origin, destination string) bool {
	var best *vehicleState
	for _, s := range f {
		if s.vehicle.Type.CapacityClass != item.CapacityClass {
			continue
		}
		if s.capacityRemaining < item.Quantity || !s.canVisit(origin, destination) {
			continue
		}
		if best == nil || s.capacityRemaining < best.capacityRemaining ||
			(s.capacityRemaining == best.capacityRemaining && s.vehicle.ID < best.vehicle.ID) {
			best = s
		}
	}
	if best == nil {
		return false
	}
	best.assign(item, item.Quantity, origin, destination)
	return true
}

// placePartial assigns as much of the item's quantity as the fleet can
// still absorb, possibly across several vehicles. Returns the quantity
// seated; the remainder stays in the pool for the next day.
func (f fleetState) placePartial(item models.RequestItem, origin, destination string) int {
	remaining := item.Quantity
	for remaining > 0 {
		var best *vehicleState
		for _, s := range f {
			if s.vehicle.Type.CapacityClass != item.CapacityClass {
				continue
			}
			if s.capacityRemaining <= 0 || !s.canVisit(origin, destination) {
				continue
			}
			if best == nil || s.capacityRemaining > best.capacityRemaining ||
				(s.capacityRemaining == best.capacityRemaining && s.vehicle.ID < best.vehicle.ID) {
				best = s
			}
		}
		if best == nil {
			break
		}
		qty := remaining
		if qty > best.capacityRemaining {
			qty = best.capacityRemaining
		}
		best.assign(item, qty, origin, destination)
		remaining -= qty
	}
	return item.Quantity - remaining
}

func (f fleetState) shipmentPlans(dispatchDate time.Time) []models.ShipmentPlan {
	plans := make([]models.ShipmentPlan, 0, len(f))
	for _, s := range f {
		if len(s.items) == 0 {
			continue
		}
		used := 0
		for _, it := range s.items {
			used += it.Quantity
		}
		plans = append(plans, models.ShipmentPlan{
			Vehicle:      s.vehicle,
			DispatchDate: dispatchDate,
			Items:        s.items,
			CapacityUsed: used,
			Origins:      sortedKeys(s.origins),
			Destinations: sortedKeys(s.destinations),
		})
	}
	return plans
}

func (f fleetState) utilization() float64 {
	var offered, used int
	for _, s := range f {
		offered += s.vehicle.Type.MaximumCapacity
		used += s.vehicle.Type.MaximumCapacity - s.capacityRemaining
	}
	if offered == 0 {
		return 0
	}
	return float64(used) / float64(offered)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
