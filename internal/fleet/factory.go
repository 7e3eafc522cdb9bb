package fleet

import (
	"time"

	"github.com/example/bulk-logistics/internal/models"
)

// Vehicle type catalog used when seeding a fresh deployment.
var (
	LargeTruckType = models.VehicleType{
		ID: 1, Name: "large_truck",
		CapacityClass:     models.CapacityWeight,
		MaximumCapacity:   5000,
		MaxPickupsPerDay:  1,
		MaxDropoffsPerDay: 1,
		TripProfile:       models.TripSingle,
	}
	MediumTruckType = models.VehicleType{
		ID: 2, Name: "medium_truck",
		CapacityClass:     models.CapacityUnit,
		MaximumCapacity:   2000,
		MaxPickupsPerDay:  5,
		MaxDropoffsPerDay: 5,
		TripProfile:       models.TripShared,
	}
	SmallTruckType = models.VehicleType{
		ID: 3, Name: "small_truck",
		CapacityClass:     models.CapacityUnit,
		MaximumCapacity:   500,
		MaxPickupsPerDay:  8,
		MaxDropoffsPerDay: 8,
		TripProfile:       models.TripShared,
	}
)

// DefaultFleet builds the starter fleet for a new simulation run.
func DefaultFleet(purchaseDate time.Time) []models.Vehicle {
	specs := []struct {
		vehicleType models.VehicleType
		count       int
		dailyCost   float64
	}{
		{LargeTruckType, 2, 500},
		{MediumTruckType, 2, 300},
		{SmallTruckType, 4, 200},
	}

	var fleet []models.Vehicle
	id := int64(0)
	for _, s := range specs {
		for i := 0; i < s.count; i++ {
			id++
			fleet = append(fleet, models.Vehicle{
				ID:                   id,
				Type:                 s.vehicleType,
				IsActive:             true,
				DailyOperationalCost: s.dailyCost,
				PurchaseDate:         purchaseDate,
			})
		}
	}
	return fleet
}
