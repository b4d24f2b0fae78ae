package repository

import (
	"time"

	"github.com/kursadbilgin/order-notifier/internal/domain"
)

// SentOrderModel is one notified order. Position keeps the per-marketplace
// insertion order of the sent record.
type SentOrderModel struct {
	ID          uint               `gorm:"primaryKey;autoIncrement"`
	Marketplace domain.Marketplace `gorm:"type:varchar(20);not null;uniqueIndex:idx_sent_orders_marketplace_order,priority:1"`
	OrderID     string             `gorm:"type:varchar(64);not null;uniqueIndex:idx_sent_orders_marketplace_order,priority:2"`
	Position    int                `gorm:"not null"`
	CreatedAt   time.Time
}

func (SentOrderModel) TableName() string {
	return "sent_orders"
}

// DispatchAttemptModel is the persistence model for dispatch_attempts.
type DispatchAttemptModel struct {
	ID           string             `gorm:"type:varchar(36);primaryKey"`
	RunID        string             `gorm:"type:varchar(36);not null;index:idx_dispatch_attempts_run_id"`
	Marketplace  domain.Marketplace `gorm:"type:varchar(20);not null"`
	OrderID      string             `gorm:"type:varchar(64);not null"`
	Succeeded    bool               `gorm:"not null"`
	StatusCode   *int               `gorm:"type:int"`
	GatewayCode  *string            `gorm:"type:varchar(32)"`
	ResponseBody *string            `gorm:"type:text"`
	Error        *string            `gorm:"type:text"`
	CreatedAt    time.Time
}

func (DispatchAttemptModel) TableName() string {
	return "dispatch_attempts"
}

func attemptModelFromDomain(a *domain.DispatchAttempt) *DispatchAttemptModel {
	if a == nil {
		return nil
	}

	return &DispatchAttemptModel{
		ID:           a.ID,
		RunID:        a.RunID,
		Marketplace:  a.Marketplace,
		OrderID:      a.OrderID,
		Succeeded:    a.Succeeded,
		StatusCode:   a.StatusCode,
		GatewayCode:  a.GatewayCode,
		ResponseBody: a.ResponseBody,
		Error:        a.Error,
		CreatedAt:    a.CreatedAt,
	}
}

func attemptModelToDomain(m *DispatchAttemptModel) *domain.DispatchAttempt {
	if m == nil {
		return nil
	}

	return &domain.DispatchAttempt{
		ID:           m.ID,
		RunID:        m.RunID,
		Marketplace:  m.Marketplace,
		OrderID:      m.OrderID,
		Succeeded:    m.Succeeded,
		StatusCode:   m.StatusCode,
		GatewayCode:  m.GatewayCode,
		ResponseBody: m.ResponseBody,
		Error:        m.Error,
		CreatedAt:    m.CreatedAt,
	}
}

func sentOrderModels(record *domain.SentRecord) []SentOrderModel {
	models := make([]SentOrderModel, 0, record.Len())
	for _, m := range record.Marketplaces() {
		for i, id := range record.OrderIDs(m) {
			models = append(models, SentOrderModel{
				Marketplace: m,
				OrderID:     id,
				Position:    i,
			})
		}
	}
	return models
}
