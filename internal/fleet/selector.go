package fleet

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/bulk-logistics/internal/models"
)

// VehicleSource is the minimal read interface the selector needs.
type VehicleSource interface {
	AllVehicles(ctx context.Context) ([]models.Vehicle, error)
}

// SelectionError reports why no vehicle combination could be produced.
// It is an expected outcome, not an infrastructure failure.
type SelectionError struct {
	Reason string
}

func (e *SelectionError) Error() string { return "vehicle selection: " + e.Reason }

// Selector determines which vehicles a pickup request needs, grouped by
// capacity class. It never mutates fleet state; the returned slice may
// repeat a vehicle when more trips than physical units are required.
type Selector struct {
	Vehicles VehicleSource
}

// SelectVehicles resolves the vehicle (type) records needed to carry the
// declared item quantities without exceeding any single vehicle's
// maximum capacity.
func (s *Selector) SelectVehicles(ctx context.Context, items []models.ItemRequest) ([]models.Vehicle, error) {
	totals := make(map[models.CapacityClass]int)
	for _, it := range items {
		class := it.CapacityClass
		if class == "" {
			class = ClassForItem(it.ItemName)
		}
		if class == "" {
			return nil, &SelectionError{Reason: fmt.Sprintf("unsupported item %q", it.ItemName)}
		}
		totals[class] += it.Quantity
	}
	if len(totals) == 0 {
		return nil, &SelectionError{Reason: "request has no items"}
	}

	all, err := s.Vehicles.AllVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}

	var selected []models.Vehicle
	// iterate classes in a stable order for deterministic costing
	for _, class := range []models.CapacityClass{models.CapacityWeight, models.CapacityUnit} {
		total, ok := totals[class]
		if !ok || total <= 0 {
			continue
		}
		chosen, err := selectForClass(class, total, all)
		if err != nil {
			return nil, err
		}
		selected = append(selected, chosen...)
	}
	return selected, nil
}

func selectForClass(class models.CapacityClass, total int, all []models.Vehicle) ([]models.Vehicle, error) {
	candidates := make([]models.Vehicle, 0, len(all))
	for _, v := range all {
		if v.IsActive && v.Type.CapacityClass == class && v.Type.MaximumCapacity > 0 {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return nil, &SelectionError{Reason: fmt.Sprintf("no active vehicles serve class %s", class)}
	}
	// biggest capacity first, vehicle id as tiebreak to stay deterministic
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Type.MaximumCapacity != candidates[j].Type.MaximumCapacity {
			return candidates[i].Type.MaximumCapacity > candidates[j].Type.MaximumCapacity
		}
		return candidates[i].ID < candidates[j].ID
	})

	if class == models.CapacityWeight {
		return selectWeight(total, candidates), nil
	}
	return selectUnit(total, candidates)
}

// selectWeight loads onto the largest weight vehicles: as many unique
// trucks as possible, then repeat trips on the first one.
func selectWeight(total int, candidates []models.Vehicle) []models.Vehicle {
	capacity := candidates[0].Type.MaximumCapacity
	required := (total + capacity - 1) / capacity

	unique := required
	if unique > len(candidates) {
		unique = len(candidates)
	}
	selected := make([]models.Vehicle, 0, required)
	selected = append(selected, candidates[:unique]...)
	for i := required - unique; i > 0; i-- {
		selected = append(selected, candidates[0])
	}
	return selected
}

// selectUnit prefers larger unit vehicles while the remainder would
// overflow a small one, then falls back to the smallest class, cycling
// through physical units of each size.
func selectUnit(total int, candidates []models.Vehicle) ([]models.Vehicle, error) {
	smallCap := candidates[len(candidates)-1].Type.MaximumCapacity

	var big, small []models.Vehicle
	for _, v := range candidates {
		if v.Type.MaximumCapacity > smallCap {
			big = append(big, v)
		} else {
			small = append(small, v)
		}
	}

	var selected []models.Vehicle
	remaining := total
	bigIdx, smallIdx := 0, 0
	for remaining > 0 {
		switch {
		case remaining > smallCap && len(big) > 0:
			v := big[bigIdx%len(big)]
			selected = append(selected, v)
			bigIdx++
			remaining -= v.Type.MaximumCapacity
		case len(small) > 0:
			v := small[smallIdx%len(small)]
			selected = append(selected, v)
			smallIdx++
			remaining -= v.Type.MaximumCapacity
		default:
			return nil, &SelectionError{Reason: "no vehicles available to complete the request"}
		}
	}
	return selected, nil
}
