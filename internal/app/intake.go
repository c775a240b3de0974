package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cimillas/fulfillment-desk/internal/domain"
)

// ProductCatalog looks up products by id.
type ProductCatalog interface {
	Lookup(id string) (domain.Product, error)
}

// ArtifactPackager bundles a product's source files for one order.
type ArtifactPackager interface {
	Package(orderID string, sourceFiles []string) (domain.Artifact, error)
	Discard(ref string) error
}

// OrderCreator is the engine surface intake feeds into.
type OrderCreator interface {
	Create(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error)
	Get(ctx context.Context, id string) (domain.Order, error)
}

const orphanCheckTimeout = 5 * time.Second

// Intake turns a buyer's purchase request into a pending order.
type Intake struct {
	catalog  ProductCatalog
	packager ArtifactPackager
	orders   OrderCreator
	proof    ProofPolicy
	logger   *slog.Logger
}

func NewIntake(catalog ProductCatalog, packager ArtifactPackager, orders OrderCreator, proof ProofPolicy, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Intake{
		catalog:  catalog,
		packager: packager,
		orders:   orders,
		proof:    proof,
		logger:   logger,
	}
}

type SubmitInput struct {
	ProductID    string
	Buyer        domain.Party
	Origin       domain.Party
	PaymentProof string
}

// Submit validates the request, packages the deliverable under a fresh
// order id and creates the order. A malformed proof is rejected before any
// file is written or any record is created.
func (i *Intake) Submit(ctx context.Context, in SubmitInput) (CreateOrderResult, error) {
	if strings.TrimSpace(in.Buyer.ID) == "" {
		return CreateOrderResult{}, domain.ErrInvalidID
	}
	product, err := i.catalog.Lookup(in.ProductID)
	if err != nil {
		return CreateOrderResult{}, err
	}

	proof := strings.TrimSpace(in.PaymentProof)
	if !i.proof.Valid(proof) {
		i.logger.Info("submission_rejected",
			"reason", "invalid_proof_format",
			"product_id", in.ProductID,
			"buyer_id", in.Buyer.ID,
		)
		return CreateOrderResult{}, domain.ErrInvalidProofFormat
	}

	orderID := newUUID()
	artifact, err := i.packager.Package(orderID, product.SourceFiles)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("package artifact: %w", err)
	}

	res, err := i.orders.Create(ctx, CreateOrderInput{
		ID:             orderID,
		ProductID:      product.ID,
		ProductName:    product.DisplayName,
		Price:          product.Price,
		Buyer:          in.Buyer,
		Origin:         in.Origin,
		ArtifactRef:    artifact.Ref,
		ArtifactDigest: artifact.Digest,
		PaymentProof:   proof,
	})
	if err != nil {
		i.discardOrphan(ctx, orderID, artifact.Ref, err)
		return CreateOrderResult{}, err
	}
	return res, nil
}

// discardOrphan removes the archive packaged for a failed create, unless the
// order turns out to exist after all (a write that landed but reported an
// error) or its existence cannot be established.
func (i *Intake) discardOrphan(ctx context.Context, orderID, ref string, cause error) {
	if errors.Is(cause, domain.ErrDuplicateOrder) {
		return
	}
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanCheckTimeout)
	defer cancel()

	_, err := i.orders.Get(checkCtx, orderID)
	switch {
	case err == nil:
		i.logger.Warn("artifact_kept", "order_id", orderID, "reason", "order_exists", "error", cause)
	case errors.Is(err, domain.ErrOrderNotFound):
		if err := i.packager.Discard(ref); err != nil {
			i.logger.Error("artifact_discard_failed", "order_id", orderID, "ref", ref, "error", err)
		}
	default:
		i.logger.Warn("artifact_kept", "order_id", orderID, "reason", "order_state_unknown", "error", err)
	}
}
