package httpapi

import (
	"fmt"

	"github.com/example/bulk-logistics/internal/fleet"
	"github.com/example/bulk-logistics/internal/models"
)

// validatePickupRequest checks an intake payload against the item
// catalog. Returns one message per problem so callers can fix the whole
// payload in a single round trip.
func validatePickupRequest(input *models.PickupRequestInput) []string {
	var problems []string
	if input.OriginCompany == "" {
		problems = append(problems, "originCompany is required")
	}
	if input.DestinationCompany == "" {
		problems = append(problems, "destinationCompany is required")
	}
	if input.OriginCompany != "" && input.OriginCompany == input.DestinationCompany {
		problems = append(problems, "originCompany and destinationCompany must differ")
	}
	if len(input.Items) == 0 {
		problems = append(problems, "at least one item is required")
	}
	for i, item := range input.Items {
		if item.ItemName == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: itemName is required", i))
			continue
		}
		if fleet.ClassForItem(item.ItemName) == "" {
			problems = append(problems, fmt.Sprintf("items[%d]: unknown item %q", i, item.ItemName))
			continue
		}
		if item.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("items[%d]: quantity must be positive", i))
			continue
		}
		if max := fleet.MaxQuantityForItem(item.ItemName); item.Quantity > max {
			problems = append(problems, fmt.Sprintf(
				"items[%d]: quantity %d exceeds the %d limit for %s",
				i, item.Quantity, max, item.ItemName))
		}
	}
	return problems
}

func classFor(item models.ItemRequest) models.CapacityClass {
	if item.CapacityClass != "" {
		return item.CapacityClass
	}
	return fleet.ClassForItem(item.ItemName)
}
