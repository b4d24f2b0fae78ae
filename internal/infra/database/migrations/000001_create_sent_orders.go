package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/order-notifier/internal/repository"
	"gorm.io/gorm"
)

func createSentOrdersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_sent_orders",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.SentOrderModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SentOrderModel{})
		},
	}
}
