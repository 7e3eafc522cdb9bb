package costing

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/bulk-logistics/internal/models"
	"github.com/example/bulk-logistics/internal/observability"
)

// FallbackCost is quoted whenever the real calculation cannot complete.
// A pickup request must always receive a price.
const FallbackCost int64 = 150

const (
	profitMultiplier = 1.5 // base cost plus a 50% margin
	daysPerYear      = 365
	loanTermDays     = 1825 // five-year principal amortization
	fleetSizeDivisor = 30
)

// VehiclePicker resolves the vehicles a set of items would need.
type VehiclePicker interface {
	SelectVehicles(ctx context.Context, items []models.ItemRequest) ([]models.Vehicle, error)
}

// LoanSource exposes the company's outstanding loans.
type LoanSource interface {
	OutstandingLoans(ctx context.Context) ([]models.Loan, error)
}

// Calculator prices a delivery from the vehicles it needs plus the
// fleet's share of daily loan repayments, with a profit margin on top.
type Calculator struct {
	Selector VehiclePicker
	Loans    LoanSource
	Logger   *slog.Logger
}

// QuoteDeliveryCost returns the price for moving the given items. Any
// failure along the way degrades to FallbackCost rather than erroring:
// intake must never be blocked by a pricing hiccup.
func (c *Calculator) QuoteDeliveryCost(ctx context.Context, items []models.ItemRequest) int64 {
	observability.QuotesTotal.Inc()
	cost, err := c.quote(ctx, items)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("cost calculation degraded to fallback", "error", err)
		}
		observability.QuoteFallbacks.Inc()
		return FallbackCost
	}
	return cost
}

func (c *Calculator) quote(ctx context.Context, items []models.ItemRequest) (int64, error) {
	vehicles, err := c.Selector.SelectVehicles(ctx, items)
	if err != nil {
		return 0, err
	}
	if len(vehicles) == 0 {
		return 0, fmt.Errorf("no vehicles selected")
	}

	loans, err := c.Loans.OutstandingLoans(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch loans: %w", err)
	}
	dailyLoan := dailyLoanRepayment(loans)

	var base float64
	for _, v := range vehicles {
		base += vehicleDailyCost(v, dailyLoan)
	}

	total := base * profitMultiplier
	if math.IsNaN(total) || math.IsInf(total, 0) || total >= math.MaxInt64 {
		return 0, fmt.Errorf("cost is not representable")
	}
	cost := int64(math.Ceil(total))
	if cost < 1 {
		cost = 1
	}
	return cost, nil
}

// dailyLoanRepayment spreads interest at the mean rate over the year and
// amortizes the combined principal over the loan term.
func dailyLoanRepayment(loans []models.Loan) float64 {
	if len(loans) == 0 {
		return 0
	}
	var principal, rateSum float64
	for _, l := range loans {
		principal += l.Principal
		rateSum += l.InterestRate
	}
	avgRate := rateSum / float64(len(loans))
	return principal*avgRate/daysPerYear + principal/loanTermDays
}

// vehicleDailyCost is the slice of daily spend one delivery on this
// vehicle represents. Single-trip vehicles carry the full figures;
// shared-trip vehicles split them across their daily pickup budget.
func vehicleDailyCost(v models.Vehicle, dailyLoan float64) float64 {
	loanShare := dailyLoan / fleetSizeDivisor
	if v.Type.TripProfile == models.TripShared {
		pickups := v.Type.MaxPickupsPerDay
		if pickups <= 0 {
			pickups = 1
		}
		return (v.DailyOperationalCost + loanShare) / float64(pickups)
	}
	return v.DailyOperationalCost + loanShare
}
