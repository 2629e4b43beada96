// Package db opens the optional decision journal database.
package db

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vote-aggregator/internal/config"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/models"
)

// Open returns a nil *gorm.DB when no database is configured.
func Open(cfg config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	if cfg.DBDialect == "" || cfg.DBDsn == "" {
		return nil, nil
	}

	level := gormlogger.Error
	if cfg.Debug {
		level = gormlogger.Info
	}
	gormLog := gormlogger.New(
		logger.Or(log).WithField("component", "gorm"),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		return gorm.Open(postgres.Open(cfg.DBDsn), &gorm.Config{Logger: gormLog})
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", cfg.DBDialect)
	}
}

// AutoMigrate creates or updates the journal tables.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(&models.DecisionRecord{})
}
