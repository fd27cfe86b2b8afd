package database

import (
	"fmt"

	"tokenexchange/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReadOnlyDB serves order-book snapshot reads. It points at a replica when
// DATABASE_URL_READONLY is set and falls back to MainDB otherwise.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB initializes the read-only database connection.
// It does not run any migrations and must be called after InitMainDB.
func InitReadOnlyDB() error {
	config := GetConfig()
	if config.DatabaseURLReadOnly == "" {
		ReadOnlyDB = MainDB
		logrus.Info("[ReadOnlyDB] no replica configured, sharing MainDB")
		return nil
	}

	db, err := gorm.Open(postgres.Open(config.DatabaseURLReadOnly),
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to read-only database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	var count int64
	if err := db.Model(&model.Order{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access orders on ReadOnlyDB: %w", err)
	}

	logrus.WithFields(map[string]interface{}{"count": count}).Info("[ReadOnlyDB] orders reachable")

	ReadOnlyDB = db

	return nil
}
