package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for DB; main connects after the port is open.
}

// DatabaseDSN builds the MySQL DSN from DB_USER/DB_PASSWORD/DB_HOST/DB_PORT/DB_NAME.
// A DB_HOST of the form "/cloudsql/<CONNECTION_NAME>" connects over the unix socket.
func DatabaseDSN() string {
	dbHost := os.Getenv("DB_HOST")
	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, os.Getenv("DB_PORT"))
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&loc=UTC",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		network,
		address,
		os.Getenv("DB_NAME"),
	)
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	dsn := DatabaseDSN()

	var attempt int
	for {
		attempt++
		conn, err := OpenDatabase(dsn)
		if err == nil {
			db = conn
			log.Printf("connected to database (attempt=%d)", attempt)
			return
		}

		sleep := RetryBackoff(attempt)
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

// OpenDatabase opens one connection pool with the process gorm settings and tracing plugin.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(mysql.Open(dsn), initConfig())
	if err != nil {
		return nil, err
	}
	// Env overrides (optional):
	// - DB_MAX_OPEN_CONNS (default 50)
	// - DB_MAX_IDLE_CONNS (default 25)
	// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
	if sqlDB, derr := conn.DB(); derr == nil && sqlDB != nil {
		if maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50); maxOpen > 0 {
			sqlDB.SetMaxOpenConns(maxOpen)
		}
		if maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25); maxIdle >= 0 {
			sqlDB.SetMaxIdleConns(maxIdle)
		}
		if life := time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second; life > 0 {
			sqlDB.SetConnMaxLifetime(life)
		}
	}
	if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	return conn, nil
}

// RetryBackoff doubles from 2s and caps at 30s.
func RetryBackoff(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	sleep := time.Second * time.Duration(1<<attempt)
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormLogger(),
		NamingStrategy: &schema.NamingStrategy{SingularTable: false},
	}
}

// GORM_LOG points SQL logging at a file (info level); otherwise errors go to stdout.
func gormLogger() logger.Interface {
	if logFile := os.Getenv("GORM_LOG"); logFile != "" {
		if f, err := os.Create(logFile); err == nil {
			return logger.New(log.New(io.MultiWriter(f), "\r\n", log.LstdFlags), logger.Config{
				LogLevel:      logger.Info,
				SlowThreshold: time.Second,
			})
		}
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}
