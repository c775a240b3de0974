package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cimillas/fulfillment-desk/internal/authz"
	"github.com/cimillas/fulfillment-desk/internal/domain"
)

// Authorizer decides whether an administrator may perform an action.
type Authorizer interface {
	Allowed(ctx context.Context, adminID, resource, action string) (bool, error)
}

// OrderDecider is the engine surface used by administrator actions.
type OrderDecider interface {
	Reject(ctx context.Context, orderID string, in RejectInput) (RejectResult, error)
	Deliver(ctx context.Context, orderID string, in DeliverInput) (DeliverResult, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	History(ctx context.Context, id string) ([]domain.StatusChange, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	ListSales(ctx context.Context, since time.Time) ([]domain.SaleRecord, error)
}

// SourceCatalog accepts replacement source files for an offer.
type SourceCatalog interface {
	Lookup(id string) (domain.Product, error)
	SetSources(id string, files []string) error
}

// AdminActions authorizes administrator requests and forwards them to the
// engine. Actions are always keyed by order id.
type AdminActions struct {
	orders    OrderDecider
	authz     Authorizer
	catalog   SourceCatalog
	sourceDir string
	logger    *slog.Logger
}

func NewAdminActions(orders OrderDecider, authorizer Authorizer, catalog SourceCatalog, sourceDir string, logger *slog.Logger) *AdminActions {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AdminActions{
		orders:    orders,
		authz:     authorizer,
		catalog:   catalog,
		sourceDir: sourceDir,
		logger:    logger,
	}
}

func (s *AdminActions) Reject(ctx context.Context, adminID, orderID, reason string) (RejectResult, error) {
	if err := s.authorize(ctx, adminID, authz.ResourceOrder, authz.ActionReject); err != nil {
		return RejectResult{}, err
	}
	return s.orders.Reject(ctx, orderID, RejectInput{
		AdminID: adminID,
		Reason:  reason,
		Detail:  map[string]string{"via": "admin_action"},
	})
}

func (s *AdminActions) Deliver(ctx context.Context, adminID, orderID string) (DeliverResult, error) {
	if err := s.authorize(ctx, adminID, authz.ResourceOrder, authz.ActionDeliver); err != nil {
		return DeliverResult{}, err
	}
	return s.orders.Deliver(ctx, orderID, DeliverInput{
		AdminID: adminID,
		Detail:  map[string]string{"via": "admin_action"},
	})
}

func (s *AdminActions) ListOrders(ctx context.Context, adminID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if err := s.authorize(ctx, adminID, authz.ResourceOrder, authz.ActionView); err != nil {
		return nil, err
	}
	return s.orders.ListByStatus(ctx, status, limit)
}

func (s *AdminActions) History(ctx context.Context, adminID, orderID string) ([]domain.StatusChange, error) {
	if err := s.authorize(ctx, adminID, authz.ResourceOrder, authz.ActionView); err != nil {
		return nil, err
	}
	return s.orders.History(ctx, orderID)
}

// SourceUpload is one uploaded source file for an offer.
type SourceUpload struct {
	Name string
	Body io.Reader
}

// UploadSources replaces a product's source files with the uploaded set
// and points the catalog at them. Files live under sourceDir/<productID>,
// which catalog.ApplySourceDir reads back at startup. Artifacts of existing
// orders are not touched.
func (s *AdminActions) UploadSources(ctx context.Context, adminID, productID string, files []SourceUpload) ([]string, error) {
	if err := s.authorize(ctx, adminID, authz.ResourceCatalog, authz.ActionUpload); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, domain.ErrNoSourceFiles
	}
	if productID == "" || filepath.Base(productID) != productID || strings.HasPrefix(productID, ".") {
		return nil, domain.ErrInvalidID
	}
	if _, err := s.catalog.Lookup(productID); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		name := filepath.Base(f.Name)
		if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
			return nil, fmt.Errorf("%w: file name %q", domain.ErrInvalidID, f.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate file name %q", domain.ErrInvalidID, name)
		}
		seen[name] = true
		names = append(names, name)
	}

	if err := os.MkdirAll(s.sourceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create source dir: %w", err)
	}
	staging, err := os.MkdirTemp(s.sourceDir, "."+productID+".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for i, f := range files {
		if err := writeFile(filepath.Join(staging, names[i]), f.Body); err != nil {
			return nil, err
		}
	}

	dir := filepath.Join(s.sourceDir, productID)
	if err := swapDir(staging, dir); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, filepath.Join(dir, name))
	}
	if err := s.catalog.SetSources(productID, paths); err != nil {
		return nil, err
	}
	s.logger.Info("offer_sources_uploaded", "product_id", productID, "admin_id", adminID, "files", len(paths))
	return paths, nil
}

// ListSales returns the sales ledger from since onwards.
func (s *AdminActions) ListSales(ctx context.Context, adminID string, since time.Time) ([]domain.SaleRecord, error) {
	if err := s.authorize(ctx, adminID, authz.ResourceSales, authz.ActionView); err != nil {
		return nil, err
	}
	return s.orders.ListSales(ctx, since)
}

// swapDir moves staging into place at dir, replacing whatever was there.
func swapDir(staging, dir string) error {
	old := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".replaced-"+newUUID())
	hadOld := true
	if err := os.Rename(dir, old); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("retire source dir: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(staging, dir); err != nil {
		if hadOld {
			_ = os.Rename(old, dir)
		}
		return fmt.Errorf("publish source dir: %w", err)
	}
	if hadOld {
		_ = os.RemoveAll(old)
	}
	return nil
}

func (s *AdminActions) authorize(ctx context.Context, adminID, resource, action string) error {
	ok, err := s.authz.Allowed(ctx, adminID, resource, action)
	if err != nil {
		return fmt.Errorf("authorize %s %s: %w", resource, action, err)
	}
	if !ok {
		s.logger.Warn("admin_action_denied", "admin_id", adminID, "resource", resource, "action", action)
		return domain.ErrForbidden
	}
	return nil
}

func writeFile(path string, body io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create source file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write source file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close source file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish source file: %w", err)
	}
	return nil
}
