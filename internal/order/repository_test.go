package order

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/product"
	"github.com/fjod/storefront/internal/storage"
	"github.com/fjod/storefront/internal/storage/storagetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) (*Repository, string) {
	db := storagetest.NewSQLite(t)
	p := &domain.Product{Name: "Batik", Price: decimal.NewFromInt(100), Stock: 100, IsActive: true}
	require.NoError(t, product.NewRepository(db).Create(context.Background(), p))
	return NewRepository(db), p.ID
}

func newTestOrder(userID, productID string, createdAt time.Time) *domain.Order {
	return domain.NewOrder(userID, domain.ShippingInfo{Address: "Jl. Malioboro 12, Yogyakarta"}, []domain.OrderItem{
		{ProductID: productID, ProductName: "Batik", Quantity: 2, Price: decimal.NewFromInt(100)},
	}, createdAt)
}

func TestCreateAndFindByID(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()

	o := newTestOrder("user-1", productID, storage.Now())
	o.Shipping.Note = "leave at the gate"
	require.NoError(t, repo.Create(ctx, o))
	assert.Regexp(t, `^ORD-\d+-[0-9A-Z]{7}$`, o.OrderNumber)

	got, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, o.Shipping, got.Shipping)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.True(t, decimal.NewFromInt(200).Equal(got.TotalAmount), "got %s", got.TotalAmount)
	require.Len(t, got.Items, 1)
	assert.Equal(t, productID, got.Items[0].ProductID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Items[0].Price))
}

func TestFindByID_NotFound(t *testing.T) {
	repo, _ := setupRepo(t)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCreate_RetriesOnNumberCollision(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()

	numbers := []string{"ORD-1-AAAAAAA", "ORD-1-AAAAAAA", "ORD-1-BBBBBBB"}
	calls := 0
	repo.newNumber = func(time.Time) string {
		n := numbers[calls]
		calls++
		return n
	}

	first := newTestOrder("user-1", productID, storage.Now())
	require.NoError(t, repo.Create(ctx, first))
	second := newTestOrder("user-1", productID, storage.Now())
	require.NoError(t, repo.Create(ctx, second))

	assert.Equal(t, "ORD-1-AAAAAAA", first.OrderNumber)
	assert.Equal(t, "ORD-1-BBBBBBB", second.OrderNumber)
	assert.Equal(t, 3, calls)
}

func TestCreate_GivesUpAfterSecondCollision(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()
	repo.newNumber = func(time.Time) string { return "ORD-1-SAME000" }

	require.NoError(t, repo.Create(ctx, newTestOrder("user-1", productID, storage.Now())))

	err := repo.Create(ctx, newTestOrder("user-1", productID, storage.Now()))
	assert.ErrorIs(t, err, domain.ErrOrderNumberCollide)
}

func TestListByUser_NewestFirstPaginatedAndIsolated(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()

	base := storage.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		o := newTestOrder("alice", productID, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, o))
		ids = append(ids, o.ID)
	}
	require.NoError(t, repo.Create(ctx, newTestOrder("bob", productID, base.Add(time.Hour))))

	page1, err := repo.ListByUser(ctx, "alice", domain.PageRequest{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page1.Total)
	assert.Equal(t, 3, page1.TotalPages)
	require.Len(t, page1.Items, 2)
	assert.Equal(t, ids[4], page1.Items[0].ID)
	assert.Equal(t, ids[3], page1.Items[1].ID)
	assert.Len(t, page1.Items[0].Items, 1)

	page3, err := repo.ListByUser(ctx, "alice", domain.PageRequest{Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	assert.Equal(t, ids[0], page3.Items[0].ID)

	for _, o := range append(page1.Items, page3.Items...) {
		assert.Equal(t, "alice", o.UserID)
	}

	none, err := repo.ListByUser(ctx, "carol", domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Total)
	assert.Empty(t, none.Items)
	assert.Equal(t, domain.DefaultLimit, none.Limit)
}

func TestListByUser_PageBeyondRangeIsEmpty(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestOrder("alice", productID, storage.Now())))

	page, err := repo.ListByUser(ctx, "alice", domain.PageRequest{Page: math.MaxInt64/20 + 2, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Empty(t, page.Items)
	assert.Equal(t, domain.MaxPage, page.Page)
}

func TestListByUser_SameTimestampFallsBackToInsertOrder(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()
	at := storage.Now()

	first := newTestOrder("alice", productID, at)
	second := newTestOrder("alice", productID, at)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	page, err := repo.ListByUser(ctx, "alice", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, second.ID, page.Items[0].ID)
}

func TestListAll_StatusFilter(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()

	a := newTestOrder("alice", productID, storage.Now())
	b := newTestOrder("bob", productID, storage.Now())
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))
	ok, err := repo.CompareAndSetStatus(ctx, b.ID, domain.OrderStatusPending, domain.OrderStatusProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	all, err := repo.ListAll(ctx, domain.PageRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)

	processing := domain.OrderStatusProcessing
	filtered, err := repo.ListAll(ctx, domain.PageRequest{}, &processing)
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Total)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, b.ID, filtered.Items[0].ID)
}

func TestCompareAndSetStatus(t *testing.T) {
	repo, productID := setupRepo(t)
	ctx := context.Background()
	o := newTestOrder("alice", productID, storage.Now())
	require.NoError(t, repo.Create(ctx, o))

	ok, err := repo.CompareAndSetStatus(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale expectation loses
	ok, err = repo.CompareAndSetStatus(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}
