// Package testing provides test utilities: a disposable Postgres database and an in-memory store
package testing

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/amirphl/astro-dispatch/migrations"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNoTestDatabase is returned when TEST_DB_HOST is not set
var ErrNoTestDatabase = errors.New("TEST_DB_HOST not set")

// TestDBConfig holds configuration for test database connections
type TestDBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
}

// GetTestDBConfig loads test database configuration from environment variables
func GetTestDBConfig() *TestDBConfig {
	return &TestDBConfig{
		Host:     getEnv("TEST_DB_HOST", ""),
		Port:     getEnvAsInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		SSLMode:  getEnv("TEST_DB_SSL_MODE", "disable"),
	}
}

// TestDB represents a test database instance
type TestDB struct {
	DB     *gorm.DB
	Name   string
	config *TestDBConfig
}

// SetupTestDB creates a new test database with a unique name and runs migrations
func SetupTestDB() (*TestDB, error) {
	config := GetTestDBConfig()
	if config.Host == "" {
		return nil, ErrNoTestDatabase
	}

	dbName := fmt.Sprintf("astro_dispatch_test_%d_%d", time.Now().Unix(), rand.Intn(10000))

	adminDB, err := gorm.Open(postgres.Open(config.serverDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	err = adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)).Error
	closeGorm(adminDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create test database %s: %w", dbName, err)
	}

	testDB, err := gorm.Open(postgres.Open(config.databaseDSN(dbName)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database %s: %w", dbName, err)
	}

	tdb := &TestDB{DB: testDB, Name: dbName, config: config}

	sqlDB, err := testDB.DB()
	if err != nil {
		_ = tdb.TeardownTestDB()
		return nil, fmt.Errorf("failed to get sql.DB for %s: %w", dbName, err)
	}
	if err := migrations.Up(sqlDB); err != nil {
		_ = tdb.TeardownTestDB()
		return nil, fmt.Errorf("failed to run migrations on test database %s: %w", dbName, err)
	}

	return tdb, nil
}

// TeardownTestDB drops the test database and closes connections
func (tdb *TestDB) TeardownTestDB() error {
	if tdb.DB == nil {
		return nil
	}
	closeGorm(tdb.DB)

	adminDB, err := gorm.Open(postgres.Open(tdb.config.serverDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to PostgreSQL for cleanup")
		return err
	}
	defer closeGorm(adminDB)

	err = adminDB.Exec(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = ? AND pid <> pg_backend_pid()",
		tdb.Name).Error
	if err != nil {
		log.Warn().Err(err).Str("database", tdb.Name).Msg("failed to terminate connections to test database")
	}

	err = adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", tdb.Name)).Error
	if err != nil {
		log.Warn().Err(err).Str("database", tdb.Name).Msg("failed to drop test database")
		return err
	}

	return nil
}

// ClearAllTables removes all data from tables while preserving structure
func (tdb *TestDB) ClearAllTables() error {
	// Order matters due to foreign key constraints
	tables := []string{
		"broadcast_recipients",
		"broadcast_jobs",
		"subscribers",
	}

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)).Error; err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

func (c *TestDBConfig) serverDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.SSLMode)
}

func (c *TestDBConfig) databaseDSN(name string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, name, c.SSLMode)
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// TestWithDB sets up a test database, runs the test function, and cleans up.
// It returns ErrNoTestDatabase when no server is configured so callers can skip.
func TestWithDB(testFunc func(*TestDB) error) error {
	testDB, err := SetupTestDB()
	if err != nil {
		return err
	}
	defer func() {
		if cleanupErr := testDB.TeardownTestDB(); cleanupErr != nil {
			log.Warn().Err(cleanupErr).Msg("failed to cleanup test database")
		}
	}()

	return testFunc(testDB)
}
