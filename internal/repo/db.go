package repo

import (
	"log"

	"pokervault/internal/config"
	"pokervault/internal/model"
	"pokervault/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB() {
	dsn := config.GlobalConfig.Database.DSN
	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Log.Fatal("Failed to connect to database",
			zap.Error(err),
		)
	}

	if err := DB.AutoMigrate(
		&model.Hand{},
		&model.PlayerHand{},
		&model.BettingPool{},
		&model.Bet{},
		&model.EscrowAccount{},
		&model.LedgerLog{},
		&model.Delegation{},
	); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
}
