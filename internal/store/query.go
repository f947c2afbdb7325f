package store

import (
	"cmp"
	"slices"
	"strings"

	"petshop/backend/internal/domain"
)

// SortSales orders aggregates the way QuerySales returns them: newest day
// first, then product name, then id.
func SortSales(sales []domain.SaleAggregate) {
	slices.SortFunc(sales, func(a, b domain.SaleAggregate) int {
		if c := b.SaleDate.Compare(a.SaleDate); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ProductName, b.ProductName); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Matches reports whether sale satisfies query. Text filters are
// case-insensitive substring matches.
func Matches(sale domain.SaleAggregate, query domain.SaleQuery) bool {
	if query.PetFoodID != "" && sale.PetFoodID != query.PetFoodID {
		return false
	}
	if query.From != nil && sale.SaleDate.Before(*query.From) {
		return false
	}
	if query.To != nil && sale.SaleDate.After(*query.To) {
		return false
	}
	return containsFold(sale.Brand, query.Brand) &&
		containsFold(sale.Category, query.Category) &&
		containsFold(sale.ProductName, query.ProductName)
}

func containsFold(value string, pattern string) bool {
	if pattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

// UniqueIDs trims ids and drops blanks and duplicates, keeping first-seen order.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
