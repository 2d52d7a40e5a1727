package product

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no live product has the id
	ErrNotFound = errors.New("product not found")
	// ErrInvalid is returned for products that cannot be stored
	ErrInvalid = errors.New("invalid product")
)

// Product is stored as a hash under products:<id>
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	// TTL expires the stored product; zero keeps it
	TTL time.Duration `json:"ttl,omitempty"`
}

func (p Product) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: %s: negative price %s", ErrInvalid, p.ID, p.Price)
	}
	if p.TTL < 0 {
		return fmt.Errorf("%w: %s: negative ttl", ErrInvalid, p.ID)
	}
	return nil
}
