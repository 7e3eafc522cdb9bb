package fleet

import "github.com/example/bulk-logistics/internal/models"

// catalogEntry describes an item kind the coordinator agrees to move.
type catalogEntry struct {
	Class       models.CapacityClass
	MaxQuantity int
}

// catalog is the closed set of tradeable goods. Raw materials move by
// weight, finished goods by unit count.
var catalog = map[string]catalogEntry{
	"Copper":      {models.CapacityWeight, 5000},
	"Silicon":     {models.CapacityWeight, 5000},
	"Sand":        {models.CapacityWeight, 5000},
	"Plastic":     {models.CapacityWeight, 5000},
	"Aluminium":   {models.CapacityWeight, 5000},
	"Electronics": {models.CapacityUnit, 2000},
	"Screens":     {models.CapacityUnit, 2000},
	"Cases":       {models.CapacityUnit, 2000},
}

// ClassForItem returns the capacity class for a known item name, or ""
// when the item is not in the catalog.
func ClassForItem(name string) models.CapacityClass {
	return catalog[name].Class
}

// MaxQuantityForItem returns the largest quantity accepted for a single
// request line of the named item, or 0 for unknown items.
func MaxQuantityForItem(name string) int {
	return catalog[name].MaxQuantity
}
