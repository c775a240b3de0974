// Package catalog holds the fixed table of products offered for sale.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

type productFile struct {
	ID          string   `yaml:"id" json:"id"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	Price       string   `yaml:"price" json:"price"`
	SourceFiles []string `yaml:"source_files" json:"source_files"`
}

type catalogFile struct {
	Products []productFile `yaml:"products" json:"products"`
}

// Catalog is a product table keyed by product id. Source files can be
// replaced at runtime when an administrator uploads new files for an
// offer; orders already created keep the artifact they were packaged with.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func New(products []domain.Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: product id required")
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %q", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("catalog: product %q has negative price", p.ID)
		}
		c.products[p.ID] = p
	}
	return c, nil
}

// Load reads a catalog from a YAML (.yaml, .yml) or JSONC (.json, .jsonc)
// file. Relative source file paths are resolved against the file's directory.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
		}
	}

	base := filepath.Dir(path)
	products := make([]domain.Product, 0, len(file.Products))
	for _, pf := range file.Products {
		price, err := decimal.NewFromString(pf.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog: product %q price %q: %w", pf.ID, pf.Price, err)
		}
		sources := make([]string, 0, len(pf.SourceFiles))
		for _, src := range pf.SourceFiles {
			if !filepath.IsAbs(src) {
				src = filepath.Join(base, src)
			}
			sources = append(sources, src)
		}
		name := pf.DisplayName
		if name == "" {
			name = pf.ID
		}
		products = append(products, domain.Product{
			ID:          pf.ID,
			DisplayName: name,
			Price:       price,
			SourceFiles: sources,
		})
	}
	return New(products)
}

// Lookup returns the product with the given id.
func (c *Catalog) Lookup(id string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	p.SourceFiles = append([]string(nil), p.SourceFiles...)
	return p, nil
}

// List returns all products ordered by id.
func (c *Catalog) List() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		p.SourceFiles = append([]string(nil), p.SourceFiles...)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetSources replaces the source files used for future orders of a product.
func (c *Catalog) SetSources(id string, files []string) error {
	if len(files) == 0 {
		return domain.ErrNoSourceFiles
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.SourceFiles = append([]string(nil), files...)
	c.products[id] = p
	return nil
}

// ApplySourceDir points every product that has an uploaded directory
// dir/<product id> at the regular files inside it, sorted by name. Hidden
// files and subdirectories are ignored, as are empty directories. It
// returns how many products were updated. A missing dir is not an error.
func (c *Catalog) ApplySourceDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	for id, p := range c.products {
		entries, err := os.ReadDir(filepath.Join(dir, id))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return updated, fmt.Errorf("catalog: read sources of %q: %w", id, err)
		}
		var files []string
		for _, e := range entries {
			if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			files = append(files, filepath.Join(dir, id, e.Name()))
		}
		if len(files) == 0 {
			continue
		}
		p.SourceFiles = files
		c.products[id] = p
		updated++
	}
	return updated, nil
}

// Available reports whether a product can currently be sold, i.e. it
// exists and every source file is readable.
func (c *Catalog) Available(id string) (bool, error) {
	p, err := c.Lookup(id)
	if err != nil {
		return false, err
	}
	if len(p.SourceFiles) == 0 {
		return false, nil
	}
	for _, src := range p.SourceFiles {
		if _, err := os.Stat(src); err != nil {
			return false, nil
		}
	}
	return true, nil
}
