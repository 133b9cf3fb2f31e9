package db

import (
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/models"
)

// Connect opens a gorm handle for the configured driver and applies the schema.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = gormsqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver != "sqlite" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate creates or updates the tables owned by this service.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&models.User{}, &chat.Chat{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
