package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openscout/openscout/pkg/discovery"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrTerminal is returned when a write targets a discovery that already
// reached a terminal stage.
var ErrTerminal = errors.New("discovery has reached a terminal stage")

// SQLiteStore implements discovery.Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded source.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreateDiscovery inserts a new discovery record.
func (s *SQLiteStore) CreateDiscovery(ctx context.Context, d *discovery.Discovery) error {
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode discovery: %w", err)
	}

	query := `
		INSERT INTO discoveries (id, connection_id, stage, correlation_id, record, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.ConnectionID,
		string(d.Stage),
		d.CorrelationID,
		string(record),
		d.CreatedAt,
		completedAt(d),
	)
	if err != nil {
		return fmt.Errorf("failed to create discovery: %w", err)
	}
	return nil
}

// SaveDiscovery updates a discovery record. A record that already reached a
// terminal stage is immutable; writes against it fail with ErrTerminal.
func (s *SQLiteStore) SaveDiscovery(ctx context.Context, d *discovery.Discovery) error {
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode discovery: %w", err)
	}

	query := `
		UPDATE discoveries
		SET stage = ?, record = ?, completed_at = ?
		WHERE id = ? AND stage NOT IN ('completed', 'failed')
	`
	result, err := s.db.ExecContext(ctx, query,
		string(d.Stage),
		string(record),
		completedAt(d),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save discovery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var stage string
		err := s.db.QueryRowContext(ctx, `SELECT stage FROM discoveries WHERE id = ?`, d.ID).Scan(&stage)
		if err == sql.ErrNoRows {
			return fmt.Errorf("discovery not found: %s", d.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to check discovery stage: %w", err)
		}
		return fmt.Errorf("discovery %s is %s: %w", d.ID, stage, ErrTerminal)
	}
	return nil
}

// GetDiscovery retrieves a discovery by ID.
func (s *SQLiteStore) GetDiscovery(ctx context.Context, id string) (*discovery.Discovery, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM discoveries WHERE id = ?`, id).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("discovery not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discovery: %w", err)
	}

	d := &discovery.Discovery{}
	if err := json.Unmarshal([]byte(record), d); err != nil {
		return nil, fmt.Errorf("failed to decode discovery: %w", err)
	}
	return d, nil
}

// ListDiscoveries lists discoveries newest-first with pagination.
func (s *SQLiteStore) ListDiscoveries(ctx context.Context, limit, offset int) ([]*discovery.Discovery, error) {
	query := `
		SELECT record FROM discoveries
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list discoveries: %w", err)
	}
	defer rows.Close()

	out := []*discovery.Discovery{}
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan discovery: %w", err)
		}
		d := &discovery.Discovery{}
		if err := json.Unmarshal([]byte(record), d); err != nil {
			return nil, fmt.Errorf("failed to decode discovery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating discoveries: %w", err)
	}
	return out, nil
}

// SaveGraph persists the graph snapshot for a discovery.
func (s *SQLiteStore) SaveGraph(ctx context.Context, discoveryID string, snapshot discovery.GraphSnapshot) error {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	query := `
		INSERT INTO graphs (discovery_id, snapshot, node_count, edge_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(discovery_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			node_count = excluded.node_count,
			edge_count = excluded.edge_count
	`
	_, err = s.db.ExecContext(ctx, query,
		discoveryID,
		string(encoded),
		snapshot.NodeCount(),
		snapshot.EdgeCount(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	return nil
}

// GetGraph returns the stored graph snapshot as raw JSON.
func (s *SQLiteStore) GetGraph(ctx context.Context, discoveryID string) ([]byte, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM graphs WHERE discovery_id = ?`, discoveryID).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("graph not found for discovery: %s", discoveryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}
	return []byte(snapshot), nil
}

// CreateConnection inserts a connection. The bearer token on the struct is
// ignored entirely; only scope and tier metadata reach storage.
func (s *SQLiteStore) CreateConnection(ctx context.Context, conn *discovery.Connection) error {
	subs, err := json.Marshal(conn.SubscriptionIDs)
	if err != nil {
		return fmt.Errorf("failed to encode subscriptions: %w", err)
	}

	query := `
		INSERT INTO connections (id, tenant_id, subscription_ids, token_expires_at, rbac_tier, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		conn.ID,
		conn.TenantID,
		string(subs),
		nullableTime(conn.TokenExpiresAt),
		conn.RBACTier,
		conn.Active,
		conn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection retrieves a connection by ID. The returned struct never
// carries a token; the token source supplies one at execution time.
func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*discovery.Connection, error) {
	query := `
		SELECT id, tenant_id, subscription_ids, token_expires_at, rbac_tier, active, created_at
		FROM connections
		WHERE id = ?
	`
	conn, err := scanConnection(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("connection not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// ListConnections lists connections newest-first with pagination.
func (s *SQLiteStore) ListConnections(ctx context.Context, limit, offset int) ([]*discovery.Connection, error) {
	query := `
		SELECT id, tenant_id, subscription_ids, token_expires_at, rbac_tier, active, created_at
		FROM connections
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	out := []*discovery.Connection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*discovery.Connection, error) {
	conn := &discovery.Connection{}
	var subs string
	var expiresAt sql.NullTime
	if err := row.Scan(
		&conn.ID,
		&conn.TenantID,
		&subs,
		&expiresAt,
		&conn.RBACTier,
		&conn.Active,
		&conn.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(subs), &conn.SubscriptionIDs); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}
	if expiresAt.Valid {
		conn.TokenExpiresAt = expiresAt.Time
	}
	return conn, nil
}

func completedAt(d *discovery.Discovery) interface{} {
	if d.CompletedAt == nil {
		return nil
	}
	return *d.CompletedAt
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
