package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FanPass/app/models"
	"github.com/ManuelReschke/FanPass/internal/pkg/env"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// DSN builds the MySQL connection string from the environment.
func DSN() string {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

// SetupDatabase connects to MySQL, retrying while the server comes up, and
// migrates the service tables. It panics when every attempt fails.
func SetupDatabase() {
	var err error
	log := logger.Component("database")

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			Logger:  logger.Gorm(),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if env.GetBool("DB_AUTO_MIGRATE", true) {
				if err = DB.AutoMigrate(models.AutoMigrateModels()...); err != nil {
					panic(fmt.Errorf("auto migrate: %w", err))
				}
			}
			log.Info("database connected")
			return
		}

		log.WithError(err).Warnf("failed to connect to database (try %d/%d)", i+1, maxRetries)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// GetDB returns the shared connection, connecting on first use.
func GetDB() *gorm.DB {
	if DB == nil {
		SetupDatabase()
	}
	return DB
}
