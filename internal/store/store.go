package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

//go:embed migrations/001_init.sql
var initSchema string

// Reader groups the read queries available both outside and inside a transaction
type Reader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)
	ListUnits(ctx context.Context, productID int64) ([]models.Unit, error)
	ListReservations(ctx context.Context, productID int64) ([]models.Reservation, error)
	ListOverlappingReservations(ctx context.Context, productID int64, start, end time.Time) ([]models.Reservation, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrders(ctx context.Context, status string) ([]models.Order, error)
	ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	GetNotification(ctx context.Context, orderID int64) (*models.OrderNotification, error)
}

// Tx is a unit of work. Reads inside a Tx observe its own writes; Lock* methods
// hold exclusive row locks until the transaction ends.
type Tx interface {
	Reader

	LockProduct(ctx context.Context, id int64) (*models.Product, error)
	LockActiveUnits(ctx context.Context, productID int64) ([]models.Unit, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)

	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
	InsertUnit(ctx context.Context, unit *models.Unit) error
	SetUnitActive(ctx context.Context, unitID int64, active bool) error
	InsertReservation(ctx context.Context, r *models.Reservation) error
	DeleteReservation(ctx context.Context, id int64) (*models.Reservation, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderLine(ctx context.Context, line *models.OrderLine) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	SaveNotification(ctx context.Context, n *models.OrderNotification) error
}

// Repository is the persistence boundary used by the service layer.
// InTx commits when fn returns nil and rolls back otherwise.
type Repository interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Store is the Postgres implementation of Repository
type Store struct {
	queries
	db *sqlx.DB
}

// Open returns a Repository for the given DSN. "memory://" selects the in-memory store.
func Open(databaseURL string) (Repository, error) {
	if strings.HasPrefix(databaseURL, "memory://") {
		return NewMemoryStore(), nil
	}
	return NewStore(databaseURL)
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, initSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InTx runs fn inside a READ COMMITTED transaction
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{queries: queries{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Migrator is implemented by repositories that manage their own schema
type Migrator interface {
	Migrate(ctx context.Context) error
}
