package provider

import (
	"context"

	"github.com/kursadbilgin/order-notifier/internal/domain"
)

// Dispatcher is the outbound notification delivery port. Send never retries;
// every failure is reported through the returned result.
type Dispatcher interface {
	Send(ctx context.Context, phone string, fields domain.TemplateFields) domain.NotificationResult
}
