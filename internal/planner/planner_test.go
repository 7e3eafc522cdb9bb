package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/simclock"
)

type fakeRequests struct {
	requests []models.PickupRequest
	err      error
}

func (f fakeRequests) PaidUnshippedRequests(context.Context) ([]models.PickupRequest, error) {
	return f.requests, f.err
}

type fakeVehicles struct {
	vehicles []models.Vehicle
	err      error
}

func (f fakeVehicles) AvailableVehicles(context.Context) ([]models.Vehicle, error) {
	return f.vehicles, f.err
}

var testDay = time.Date(2050, 1, 3, 0, 0, 0, 0, time.UTC)

func newPlanner(reqs []models.PickupRequest, vehicles []models.Vehicle) *Planner {
	return &Planner{
		Requests: fakeRequests{requests: reqs},
		Vehicles: fakeVehicles{vehicles: vehicles},
		Clock:    simclock.Fixed{Date: testDay},
	}
}

func largeTruck(id int64) models.Vehicle {
	return models.Vehicle{
		ID: id, IsActive: true,
		Type: models.VehicleType{
			ID: 1, Name: "large_truck",
			CapacityClass:     models.CapacityWeight,
			MaximumCapacity:   5000,
			MaxPickupsPerDay:  1,
			MaxDropoffsPerDay: 1,
			TripProfile:       models.TripSingle,
		},
	}
}

func mediumTruck(id int64) models.Vehicle {
	return models.Vehicle{
		ID: id, IsActive: true,
		Type: models.VehicleType{
			ID: 2, Name: "medium_truck",
			CapacityClass:     models.CapacityUnit,
			MaximumCapacity:   2000,
			MaxPickupsPerDay:  5,
			MaxDropoffsPerDay: 5,
			TripProfile:       models.TripShared,
		},
	}
}

func weightRequest(id int64, day int, quantities ...int) models.PickupRequest {
	req := models.PickupRequest{
		ID:                 id,
		OriginCompany:      "copper-mine",
		DestinationCompany: "electronics-factory",
		PaymentStatus:      models.PaymentConfirmed,
		RequestDate:        time.Date(2050, 1, day, 0, 0, 0, 0, time.UTC),
	}
	for i, q := range quantities {
		req.Items = append(req.Items, models.RequestItem{
			ID: id*100 + int64(i), PickupRequestID: id,
			ItemName: "Copper", Quantity: q,
			CapacityClass: models.CapacityWeight,
		})
	}
	return req
}

func totalAssigned(plan models.DailyPlan) int {
	total := 0
	for _, sp := range plan.CreatedShipmentsPlan {
		for _, it := range sp.Items {
			total += it.Quantity
		}
	}
	return total
}

func TestPlanSingleRequestFillsOneTruck(t *testing.T) {
	p := newPlanner(
		[]models.PickupRequest{weightRequest(1, 2, 5000)},
		[]models.Vehicle{largeTruck(1)},
	)

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 1 || plan.PlannedRequestIDs[0] != 1 {
		t.Fatalf("expected request 1 planned, got %v", plan.PlannedRequestIDs)
	}
	if len(plan.CreatedShipmentsPlan) != 1 {
		t.Fatalf("expected 1 shipment plan, got %d", len(plan.CreatedShipmentsPlan))
	}
	sp := plan.CreatedShipmentsPlan[0]
	if sp.CapacityUsed != 5000 {
		t.Fatalf("expected capacityUsed 5000, got %d", sp.CapacityUsed)
	}
	if !sp.DispatchDate.Equal(testDay) {
		t.Fatalf("expected dispatch on %v, got %v", testDay, sp.DispatchDate)
	}
}

func TestPlanOversizedRequestFallsToPartialPass(t *testing.T) {
	// Three 5000kg items but only two trucks: the whole request cannot be
	// planned, so the second pass seats two items and defers the third.
	p := newPlanner(
		[]models.PickupRequest{weightRequest(1, 2, 5000, 5000, 5000)},
		[]models.Vehicle{largeTruck(1), largeTruck(2)},
	)

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 0 {
		t.Fatalf("expected no fully planned requests, got %v", plan.PlannedRequestIDs)
	}
	if len(plan.CreatedShipmentsPlan) != 2 {
		t.Fatalf("expected 2 shipment plans, got %d", len(plan.CreatedShipmentsPlan))
	}
	if got := totalAssigned(plan); got != 10000 {
		t.Fatalf("expected 10000 kg assigned, got %d", got)
	}
}

func TestPlanFIFOPrefersEarlierRequest(t *testing.T) {
	early := weightRequest(7, 1, 5000)
	late := weightRequest(3, 4, 5000)
	p := newPlanner(
		[]models.PickupRequest{late, early},
		[]models.Vehicle{largeTruck(1)},
	)

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 1 || plan.PlannedRequestIDs[0] != 7 {
		t.Fatalf("expected the earlier request (7) planned, got %v", plan.PlannedRequestIDs)
	}
}

func TestPlanSkipsAlreadyShippedItems(t *testing.T) {
	shipmentID := int64(42)
	req := weightRequest(1, 2, 5000, 4000)
	req.Items[0].ShipmentID = &shipmentID

	p := newPlanner([]models.PickupRequest{req}, []models.Vehicle{largeTruck(1)})

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := totalAssigned(plan); got != 4000 {
		t.Fatalf("expected only the unshipped 4000 kg assigned, got %d", got)
	}
	for _, sp := range plan.CreatedShipmentsPlan {
		for _, it := range sp.Items {
			if it.Item.ShipmentID != nil {
				t.Fatal("reassigned an item that already had a shipment")
			}
		}
	}
}

func TestPlanCapacityInvariant(t *testing.T) {
	reqs := []models.PickupRequest{
		weightRequest(1, 1, 3000, 2500),
		weightRequest(2, 2, 4000),
		weightRequest(3, 3, 1000, 1000),
	}
	p := newPlanner(reqs, []models.Vehicle{largeTruck(1), largeTruck(2)})

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sp := range plan.CreatedShipmentsPlan {
		if sp.CapacityUsed > sp.Vehicle.Type.MaximumCapacity {
			t.Fatalf("vehicle %d over capacity: %d > %d",
				sp.Vehicle.ID, sp.CapacityUsed, sp.Vehicle.Type.MaximumCapacity)
		}
	}
}

func TestPlanFullyPlannedRequestsHaveAllItemsSeated(t *testing.T) {
	reqs := []models.PickupRequest{
		weightRequest(1, 1, 5000),
		weightRequest(2, 2, 5000, 5000),
	}
	p := newPlanner(reqs, []models.Vehicle{largeTruck(1), largeTruck(2)})

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assigned := make(map[int64]int) // request id -> quantity seated
	for _, sp := range plan.CreatedShipmentsPlan {
		for _, it := range sp.Items {
			assigned[it.Item.PickupRequestID] += it.Quantity
		}
	}
	for _, id := range plan.PlannedRequestIDs {
		want := 0
		for _, r := range reqs {
			if r.ID == id {
				for _, it := range r.Items {
					want += it.Quantity
				}
			}
		}
		if assigned[id] != want {
			t.Fatalf("request %d planned but only %d of %d seated", id, assigned[id], want)
		}
	}
}

func TestPlanRespectsPickupLimits(t *testing.T) {
	// One truck, one distinct pickup per day: only the first origin rides.
	first := weightRequest(1, 1, 2000)
	second := weightRequest(2, 2, 2000)
	second.OriginCompany = "sand-quarry"

	p := newPlanner([]models.PickupRequest{first, second}, []models.Vehicle{largeTruck(1)})

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 1 || plan.PlannedRequestIDs[0] != 1 {
		t.Fatalf("expected only request 1 planned, got %v", plan.PlannedRequestIDs)
	}
}

func TestPlanZeroStopLimitIsUnrestricted(t *testing.T) {
	// A zero (or negative) stop budget disables the distinct-stop check:
	// one truck serves any number of origins and destinations.
	truck := mediumTruck(1)
	truck.Type.MaxPickupsPerDay = 0
	truck.Type.MaxDropoffsPerDay = 0

	var reqs []models.PickupRequest
	for i, origin := range []string{"screen-supplier", "case-supplier", "sand-quarry"} {
		id := int64(i + 1)
		reqs = append(reqs, models.PickupRequest{
			ID: id, OriginCompany: origin, DestinationCompany: origin + "-depot",
			PaymentStatus: models.PaymentConfirmed,
			RequestDate:   time.Date(2050, 1, i+1, 0, 0, 0, 0, time.UTC),
			Items: []models.RequestItem{{
				ID: id * 100, PickupRequestID: id, ItemName: "Screens",
				Quantity: 500, CapacityClass: models.CapacityUnit,
			}},
		})
	}

	p := newPlanner(reqs, []models.Vehicle{truck})
	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 3 {
		t.Fatalf("expected all 3 requests planned on one truck, got %v", plan.PlannedRequestIDs)
	}
	if len(plan.CreatedShipmentsPlan) != 1 || len(plan.CreatedShipmentsPlan[0].Origins) != 3 {
		t.Fatalf("expected one shipment visiting 3 origins, got %+v", plan.CreatedShipmentsPlan)
	}
}

func TestPlanClassAffinity(t *testing.T) {
	unitReq := models.PickupRequest{
		ID: 1, OriginCompany: "screen-supplier", DestinationCompany: "case-supplier",
		PaymentStatus: models.PaymentConfirmed,
		RequestDate:   time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC),
		Items: []models.RequestItem{{
			ID: 10, PickupRequestID: 1, ItemName: "Screens",
			Quantity: 100, CapacityClass: models.CapacityUnit,
		}},
	}
	// Only a weight-class truck available: the unit item must stay unplanned.
	p := newPlanner([]models.PickupRequest{unitReq}, []models.Vehicle{largeTruck(1)})

	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 0 || len(plan.CreatedShipmentsPlan) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}

	// With a unit truck it rides.
	p = newPlanner([]models.PickupRequest{unitReq}, []models.Vehicle{mediumTruck(1)})
	plan, err = p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 1 {
		t.Fatalf("expected the unit request planned, got %v", plan.PlannedRequestIDs)
	}
}

func TestPlanInputFailureAborts(t *testing.T) {
	p := &Planner{
		Requests: fakeRequests{err: errors.New("db down")},
		Vehicles: fakeVehicles{},
		Clock:    simclock.Fixed{Date: testDay},
	}
	if _, err := p.PlanDailyShipments(context.Background()); err == nil {
		t.Fatal("expected error when request pool cannot load")
	}

	p = &Planner{
		Requests: fakeRequests{},
		Vehicles: fakeVehicles{err: errors.New("db down")},
		Clock:    simclock.Fixed{Date: testDay},
	}
	if _, err := p.PlanDailyShipments(context.Background()); err == nil {
		t.Fatal("expected error when vehicle pool cannot load")
	}

	p = &Planner{
		Requests: fakeRequests{},
		Vehicles: fakeVehicles{},
		Clock:    simclock.New(time.Minute), // never initialized
	}
	if _, err := p.PlanDailyShipments(context.Background()); err == nil {
		t.Fatal("expected error when the clock is uninitialized")
	}
}

func TestPlanEmptyPoolsProduceEmptyPlan(t *testing.T) {
	p := newPlanner(nil, nil)
	plan, err := p.PlanDailyShipments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.PlannedRequestIDs) != 0 || len(plan.CreatedShipmentsPlan) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}
