package broadcast

import (
	"context"
	"fmt"

	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

// BuildSnapshot assembles the full venue state: current price, circulating
// units, market cap and the per-user cap table. Always rebuilt from
// scratch; there is no partial-update path.
func BuildSnapshot(ctx context.Context, ledger store.Ledger, price float64, history []models.PricePoint) (*models.Snapshot, error) {
	users, err := ledger.ListUsersOrderedByCreation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var totalUnits float64
	for _, u := range users {
		totalUnits += u.BalanceUnits
	}

	capTable := make([]models.CapEntry, 0, len(users))
	for _, u := range users {
		var percent float64
		if totalUnits > 0 {
			percent = models.Round2(u.BalanceUnits / totalUnits * 100)
		}
		capTable = append(capTable, models.CapEntry{
			ID:       u.ID.String(),
			Username: u.Username,
			Units:    u.BalanceUnits,
			Value:    models.Round2(u.BalanceUnits * price),
			Percent:  percent,
		})
	}

	return &models.Snapshot{
		Price:        price,
		TotalUnits:   totalUnits,
		MarketCap:    models.Round2(totalUnits * price),
		Users:        capTable,
		PriceHistory: history,
	}, nil
}
