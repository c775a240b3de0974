package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		fileName string
		content  string
	}{
		"should load yaml catalog": {
			fileName: "catalog.yaml",
			content: `
products:
  - id: A
    display_name: Starter Pack
    price: "300"
    source_files: [files/a.txt]
  - id: B
    price: "900.50"
    source_files: [files/b.txt, /abs/c.txt]
`,
		},
		"should load jsonc catalog": {
			fileName: "catalog.jsonc",
			content: `{
  // offers
  "products": [
    {"id": "A", "display_name": "Starter Pack", "price": "300", "source_files": ["files/a.txt"]},
    {"id": "B", "price": "900.50", "source_files": ["files/b.txt", "/abs/c.txt"],},
  ],
}`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, tc.fileName)
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			c, err := Load(path)
			require.NoError(t, err)

			a, err := c.Lookup("A")
			require.NoError(t, err)
			assert.Equal(t, "Starter Pack", a.DisplayName)
			assert.True(t, a.Price.Equal(decimal.NewFromInt(300)))
			assert.Equal(t, []string{filepath.Join(dir, "files/a.txt")}, a.SourceFiles)

			b, err := c.Lookup("B")
			require.NoError(t, err)
			assert.Equal(t, "B", b.DisplayName)
			assert.Equal(t, "900.50", b.Price.StringFixed(2))
			assert.Equal(t, "/abs/c.txt", b.SourceFiles[1])

			assert.Len(t, c.List(), 2)
		})
	}
}

func TestLoad_InvalidPrice(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("products:\n  - id: A\n    price: cheap\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, `price "cheap"`)
}

func TestNew_Duplicate(t *testing.T) {
	t.Parallel()

	_, err := New([]domain.Product{{ID: "A"}, {ID: "A"}})
	assert.ErrorContains(t, err, "duplicate")
}

func TestCatalog_SetSourcesAndAvailability(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	c, err := New([]domain.Product{{ID: "A", SourceFiles: []string{filepath.Join(dir, "missing.txt")}}})
	require.NoError(t, err)

	ok, err := c.Available("A")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetSources("A", []string{src}))
	ok, err = c.Available("A")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, c.SetSources("Z", []string{src}), domain.ErrProductNotFound)
	assert.ErrorIs(t, c.SetSources("A", nil), domain.ErrNoSourceFiles)
	_, err = c.Available("Z")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCatalog_ApplySourceDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "A", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A", ".partial"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "B"), 0o755))

	c, err := New([]domain.Product{
		{ID: "A", SourceFiles: []string{"/config/a.txt"}},
		{ID: "B", SourceFiles: []string{"/config/b.txt"}},
		{ID: "C", SourceFiles: []string{"/config/c.txt"}},
	})
	require.NoError(t, err)

	n, err := c.ApplySourceDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, err := c.Lookup("A")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "A", "a.txt"), filepath.Join(dir, "A", "b.txt")}, a.SourceFiles)

	b, err := c.Lookup("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"/config/b.txt"}, b.SourceFiles)

	n, err = c.ApplySourceDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
