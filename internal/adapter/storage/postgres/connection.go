// Package postgres implements the C7 persistence adapter on
// gorm.io/gorm + gorm.io/driver/postgres, following the teacher's
// adapter/storage/postgres connection-pooling and logger-embedding
// conventions.
package postgres

import (
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewConnection opens a pooled GORM connection, mirroring the
// teacher's pool sizing (idle 10 / open 100) since nothing about this
// domain's write volume calls for a different profile.
func NewConnection(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	log.Info("postgres connection established")
	return db, nil
}

// RunMigrations auto-migrates the five EMS tables. Schema changes in
// production go through real migrations; AutoMigrate is for local/dev
// bring-up, matching the teacher's own no-op RunMigrations placeholder
// upgraded to something that actually does the useful dev-mode thing.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&SessionRecord{},
		&SessionPowerUpdate{},
		&PowerMetric{},
		&BESSStatusLog{},
		&EventRecord{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
