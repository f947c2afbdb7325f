package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
	"petshop/backend/internal/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return New() })
}

func TestNewSeededHasCatalogueAndUsers(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	s, err := NewSeeded()
	require.NoError(t, err)

	items, err := s.ListInventory(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 7)

	low := 0
	for _, item := range items {
		if item.StockQuantity <= 5 {
			low++
		}
	}
	assert.Equal(t, 1, low)

	admin, err := s.GetUser(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.NotEqual(t, "admin123", admin.Password)

	staff, err := s.GetUser(context.Background(), "staff")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNormal, staff.Role)
}
