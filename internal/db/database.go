package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"blacksheep/internal/config"
	"blacksheep/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDuplicateAPIKey is returned by CreateUser when the generated API key
// collides with an existing one. Callers regenerate and retry.
var ErrDuplicateAPIKey = errors.New("api key already exists")

// Service defines the persistence operations of the gateway.
type Service interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByAPIKey(ctx context.Context, key string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserPassword(ctx context.Context, id uint, hash string) error
	UpdateUserAPIKey(ctx context.Context, id uint, key string) error
	UpdateUserRole(ctx context.Context, id uint, role model.Role) error
	SetUsageLimit(ctx context.Context, id uint, limit int64) error
	DeleteUser(ctx context.Context, id uint) (int64, error)

	CreateModel(ctx context.Context, m *model.AIModel) error
	GetModelByID(ctx context.Context, id uint) (*model.AIModel, error)
	GetModelByName(ctx context.Context, name string) (*model.AIModel, error)
	ListModels(ctx context.Context) ([]model.AIModel, error)
	DeleteModel(ctx context.Context, id uint) (int64, error)

	UpsertGrant(ctx context.Context, userID, modelID uint, level model.AccessLevel, at time.Time) (*model.AccessGrant, error)
	GetGrant(ctx context.Context, userID, modelID uint) (*model.AccessGrant, error)
	DeleteGrant(ctx context.Context, userID, modelID uint) error
	ListGrantsByUser(ctx context.Context, userID uint) ([]model.GrantView, error)

	ConsumeUsage(ctx context.Context, userID uint, m *model.AIModel, c model.Consumption, at time.Time) error
	RefundUsage(ctx context.Context, userID uint, tokens int64) error
	ResetUsage(ctx context.Context, userID uint) error
	ResetAllUsage(ctx context.Context) (int64, error)
	UsageTotals(ctx context.Context, userID uint, from, to *time.Time) (model.UsageTotals, error)

	Ping(ctx context.Context) error
	GetDB() *gorm.DB
	Close() error
}

type service struct {
	db *gorm.DB
}

// NewService opens the database described by cfg and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// SQLite allows one writer; a single connection also keeps
		// ":memory:" databases private to this service.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.AutoMigrate(&model.User{}, &model.AIModel{}, &model.AccessGrant{}, &model.UsageRecord{})
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &service{db: db}, nil
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

func (s *service) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicate reports whether err is a unique-constraint violation.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
