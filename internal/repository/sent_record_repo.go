package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/order-notifier/internal/domain"
	"github.com/kursadbilgin/order-notifier/internal/store"
	"gorm.io/gorm"
)

const insertBatchSize = 500

var _ store.SentRecordStore = (*GormSentRecordRepo)(nil)

// GormSentRecordRepo stores the sent record in the sent_orders table. Save
// replaces all rows inside one transaction so readers see either the old or
// the new record.
type GormSentRecordRepo struct {
	db           *gorm.DB
	marketplaces []domain.Marketplace
}

func NewGormSentRecordRepo(db *gorm.DB, marketplaces ...domain.Marketplace) *GormSentRecordRepo {
	return &GormSentRecordRepo{db: db, marketplaces: marketplaces}
}

func (r *GormSentRecordRepo) Load(ctx context.Context) (*domain.SentRecord, error) {
	var models []SentOrderModel
	err := r.db.WithContext(ctx).
		Order("marketplace ASC").
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: load sent orders: %w", domain.ErrPersistenceFailed, err)
	}

	record := domain.NewSentRecord(r.marketplaces...)
	for i := range models {
		record.MarkSent(models[i].Marketplace, models[i].OrderID)
	}
	return record, nil
}

func (r *GormSentRecordRepo) Save(ctx context.Context, record *domain.SentRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", domain.ErrPersistenceFailed)
	}

	models := sentOrderModels(record)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SentOrderModel{}).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		return tx.CreateInBatches(&models, insertBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("%w: save sent orders: %w", domain.ErrPersistenceFailed, err)
	}
	return nil
}
