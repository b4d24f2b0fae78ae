package domain

import (
	"fmt"
	"strings"
	"time"
)

// Marketplace identifies an order source. Its value is also the key used in
// the persisted sent record.
type Marketplace string

const (
	MarketplaceNaver   Marketplace = "naver"
	MarketplaceCoupang Marketplace = "coupang"
)

func (m Marketplace) String() string { return string(m) }

func (m Marketplace) IsValid() bool {
	switch m {
	case MarketplaceNaver, MarketplaceCoupang:
		return true
	}
	return false
}

func ParseMarketplaceFromString(s string) (Marketplace, error) {
	m := Marketplace(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid marketplace %q", ErrValidation, s)
	}
	return m, nil
}

// NormalizedOrder is a vendor order reduced to what the notifier needs.
// OrderID is the dedup key.
type NormalizedOrder struct {
	OrderID string
	Phone   string
	Region  string
}

func (o NormalizedOrder) HasPhone() bool {
	return strings.TrimSpace(o.Phone) != ""
}

// OrderQuery selects candidate orders: a vendor status and a trailing window.
type OrderQuery struct {
	Status string
	Window time.Duration
}

func (q OrderQuery) Validate() error {
	if strings.TrimSpace(q.Status) == "" {
		return fmt.Errorf("%w: order status is required", ErrValidation)
	}
	if q.Window <= 0 {
		return fmt.Errorf("%w: order window must be positive", ErrValidation)
	}
	return nil
}

// Range returns the [from, to] interval of the window ending at now.
func (q OrderQuery) Range(now time.Time) (time.Time, time.Time) {
	return now.Add(-q.Window), now
}
