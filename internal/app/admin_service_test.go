package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/fulfillment-desk/internal/authz"
	"github.com/cimillas/fulfillment-desk/internal/catalog"
	"github.com/cimillas/fulfillment-desk/internal/domain"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]domain.Product{{
		ID:          "bundle-a",
		DisplayName: "Bundle A",
		Price:       decimal.RequireFromString("12.50"),
		SourceFiles: []string{"/config/bundle-a/readme.txt"},
	}})
	require.NoError(t, err)
	return c
}

func newTestAdmin(t *testing.T, h *harness) (*AdminActions, *catalog.Catalog, string) {
	t.Helper()
	authorizer, err := authz.New(authz.DefaultPolicy([]string{"admin-1", "admin-2"}))
	require.NoError(t, err)
	cat := newTestCatalog(t)
	dir := t.TempDir()
	return NewAdminActions(h.engine, authorizer, cat, dir, nil), cat, dir
}

func TestAdminActions_Decisions(t *testing.T) {
	t.Parallel()

	t.Run("authorized admin rejects", func(t *testing.T) {
		h := newHarness(t)
		admin, _, _ := newTestAdmin(t, h)
		order := h.createPending(t)

		res, err := admin.Reject(context.Background(), "admin-1", order.ID, "no payment")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)

		history, err := admin.History(context.Background(), "admin-2", order.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "admin_action", history[0].Detail["via"])
	})

	t.Run("unknown admin is forbidden and changes nothing", func(t *testing.T) {
		h := newHarness(t)
		admin, _, _ := newTestAdmin(t, h)
		order := h.createPending(t)

		_, err := admin.Deliver(context.Background(), "stranger", order.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		_, err = admin.Reject(context.Background(), "", order.ID, "x")
		assert.ErrorIs(t, err, domain.ErrForbidden)

		stored, err := h.store.Get(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, stored.Status)
	})

	t.Run("pending queue", func(t *testing.T) {
		h := newHarness(t)
		admin, _, _ := newTestAdmin(t, h)
		a := h.createPending(t)
		b := h.createPending(t)

		_, err := admin.Deliver(context.Background(), "admin-2", a.ID)
		require.NoError(t, err)

		pending, err := admin.ListOrders(context.Background(), "admin-1", domain.OrderStatusPending, 50)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, b.ID, pending[0].ID)

		_, err = admin.ListOrders(context.Background(), "stranger", domain.OrderStatusPending, 50)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestAdminActions_UploadSources(t *testing.T) {
	t.Parallel()

	t.Run("stores files and updates catalog", func(t *testing.T) {
		h := newHarness(t)
		admin, cat, dir := newTestAdmin(t, h)

		paths, err := admin.UploadSources(context.Background(), "admin-1", "bundle-a", []SourceUpload{
			{Name: "readme.txt", Body: strings.NewReader("hello")},
			{Name: "../../escape.bin", Body: strings.NewReader("data")},
		})
		require.NoError(t, err)
		require.Len(t, paths, 2)
		product, err := cat.Lookup("bundle-a")
		require.NoError(t, err)
		assert.Equal(t, paths, product.SourceFiles)

		for _, p := range paths {
			assert.Equal(t, filepath.Join(dir, "bundle-a"), filepath.Dir(p))
		}
		body, err := os.ReadFile(filepath.Join(dir, "bundle-a", "readme.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("rejects empty uploads", func(t *testing.T) {
		h := newHarness(t)
		admin, _, _ := newTestAdmin(t, h)

		_, err := admin.UploadSources(context.Background(), "admin-1", "bundle-a", nil)
		assert.ErrorIs(t, err, domain.ErrNoSourceFiles)
	})

	t.Run("rejects path-like product ids", func(t *testing.T) {
		h := newHarness(t)
		admin, _, _ := newTestAdmin(t, h)

		_, err := admin.UploadSources(context.Background(), "admin-1", "../etc", []SourceUpload{
			{Name: "a", Body: strings.NewReader("x")},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("unknown product writes nothing", func(t *testing.T) {
		h := newHarness(t)
		admin, _, dir := newTestAdmin(t, h)

		_, err := admin.UploadSources(context.Background(), "admin-1", "bundle-z", []SourceUpload{
			{Name: "a.bin", Body: strings.NewReader("x")},
		})
		assert.ErrorIs(t, err, domain.ErrProductNotFound)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("duplicate file names are refused", func(t *testing.T) {
		h := newHarness(t)
		admin, _, _ := newTestAdmin(t, h)

		_, err := admin.UploadSources(context.Background(), "admin-1", "bundle-a", []SourceUpload{
			{Name: "a.bin", Body: strings.NewReader("x")},
			{Name: "dir/a.bin", Body: strings.NewReader("y")},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidID)
	})

	t.Run("uploads survive a catalog reload", func(t *testing.T) {
		h := newHarness(t)
		admin, _, dir := newTestAdmin(t, h)
		ctx := context.Background()

		_, err := admin.UploadSources(ctx, "admin-1", "bundle-a", []SourceUpload{
			{Name: "old.txt", Body: strings.NewReader("v1")},
		})
		require.NoError(t, err)
		paths, err := admin.UploadSources(ctx, "admin-1", "bundle-a", []SourceUpload{
			{Name: "new-b.txt", Body: strings.NewReader("v2")},
			{Name: "new-a.txt", Body: strings.NewReader("v2")},
		})
		require.NoError(t, err)

		restarted := newTestCatalog(t)
		n, err := restarted.ApplySourceDir(dir)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		product, err := restarted.Lookup("bundle-a")
		require.NoError(t, err)
		assert.ElementsMatch(t, paths, product.SourceFiles)
		assert.NoFileExists(t, filepath.Join(dir, "bundle-a", "old.txt"))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "bundle-a", entries[0].Name())
	})

	t.Run("requires upload permission", func(t *testing.T) {
		h := newHarness(t)
		admin, _, _ := newTestAdmin(t, h)

		_, err := admin.UploadSources(context.Background(), "stranger", "bundle-a", []SourceUpload{
			{Name: "a", Body: strings.NewReader("x")},
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestAdminActions_ListSales(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	admin, _, _ := newTestAdmin(t, h)
	ctx := context.Background()
	order := h.createPending(t)
	_, err := admin.Deliver(ctx, "admin-1", order.ID)
	require.NoError(t, err)

	sales, err := admin.ListSales(ctx, "admin-2", time.Time{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, order.ID, sales[0].OrderID)

	_, err = admin.ListSales(ctx, "stranger", time.Time{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
