package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/order-notifier/internal/domain"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	// maxPages bounds pagination so a misbehaving cursor cannot loop forever.
	maxPages = 50
)

// OrderSource fetches candidate orders from one marketplace. A failed fetch
// returns no orders and an error wrapping domain.ErrSourceUnavailable.
type OrderSource interface {
	Marketplace() domain.Marketplace
	DefaultQuery() domain.OrderQuery
	FetchRecentOrders(ctx context.Context, query domain.OrderQuery) ([]domain.NormalizedOrder, error)
}

func newRestyClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	return client
}

func unavailable(marketplace domain.Marketplace, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrSourceUnavailable, marketplace, fmt.Sprintf(format, args...))
}

func unavailableCause(marketplace domain.Marketplace, msg string, cause error) error {
	return fmt.Errorf("%w: %s: %s: %w", domain.ErrSourceUnavailable, marketplace, msg, cause)
}

// bodySnippet trims vendor error bodies for error messages.
func bodySnippet(body string) string {
	body = strings.TrimSpace(body)
	const limit = 512
	if len(body) > limit {
		return body[:limit] + "..."
	}
	return body
}

func normalize(id, phone, region string) (domain.NormalizedOrder, bool) {
	order := domain.NormalizedOrder{
		OrderID: strings.TrimSpace(id),
		Phone:   strings.TrimSpace(phone),
		Region:  region,
	}
	if order.OrderID == "" || !order.HasPhone() {
		return domain.NormalizedOrder{}, false
	}
	return order, true
}
