package domain

import "github.com/shopspring/decimal"

// Product is a catalog entry. Goods are digital, so there is no stock count.
type Product struct {
	ID          string
	DisplayName string
	Price       decimal.Decimal
	SourceFiles []string
}

// Artifact is a packaged deliverable for a single order.
type Artifact struct {
	Ref    string
	Digest string
	Size   int64
}
