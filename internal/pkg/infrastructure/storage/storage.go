package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func NewConfig(host, user, password, port, dbname, sslmode string) Config {
	return Config{
		host:     host,
		user:     user,
		password: password,
		port:     port,
		dbname:   dbname,
		sslmode:  sslmode,
	}
}

func NewPool(ctx context.Context, config Config) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, config.ConnStr())
	if err != nil {
		return nil, err
	}

	err = p.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return p, nil
}

var (
	ErrNoRows        = errors.New("no rows in result set")
	ErrTooManyRows   = errors.New("too many rows in result set")
	ErrQueryRow      = errors.New("could not execute query")
	ErrStoreFailed   = errors.New("could not store data")
	ErrAlreadyExists = errors.New("already exists")
	ErrNonceReused   = errors.New("nonce already used")
	ErrMissingTenant = errors.New("missing tenant information")
)

type Storage struct {
	pool *pgxpool.Pool
}

func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func New(ctx context.Context, config Config) (*Storage, error) {
	pool, err := NewPool(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Initialize(ctx context.Context) error {
	return s.CreateTables(ctx)
}

func (s *Storage) CreateTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS devices (
			device_id			TEXT NOT NULL,
			tenant				TEXT NOT NULL,
			device_type			TEXT NOT NULL,
			public_key			TEXT NOT NULL,
			capabilities		JSONB NULL,
			firmware_version	TEXT NULL,
			status				TEXT NOT NULL DEFAULT 'active',
			policy_id			TEXT NULL,
			last_seen			timestamp with time zone NULL,
			created_on			timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_on			timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_devices PRIMARY KEY (device_id)
		);

		CREATE TABLE IF NOT EXISTS employees (
			employee_id		TEXT NOT NULL,
			tenant			TEXT NOT NULL,
			name			TEXT NOT NULL,
			email			TEXT NULL,
			active			BOOLEAN NOT NULL DEFAULT TRUE,
			consent_token	TEXT NULL,
			created_on		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted			BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_on		timestamp with time zone NULL,
			CONSTRAINT pkey_employees PRIMARY KEY (employee_id, tenant)
		);

		CREATE TABLE IF NOT EXISTS attendance_events (
			event_id			TEXT NOT NULL,
			employee_id			TEXT NOT NULL,
			event_type			TEXT NOT NULL,
			ts					timestamp with time zone NOT NULL,
			device_id			TEXT NOT NULL,
			tenant				TEXT NOT NULL,
			location			JSONB NULL,
			scores				JSONB NULL,
			break_info			JSONB NULL,
			consent_token		TEXT NULL,
			device_signature	TEXT NULL,
			raw_payload			TEXT NOT NULL,
			status				TEXT NOT NULL,
			received_at			timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_attendance_events_event_id UNIQUE (event_id)
		);

		CREATE TABLE IF NOT EXISTS device_nonces (
			device_id	TEXT NOT NULL,
			nonce_hash	TEXT NOT NULL,
			used_at		timestamp with time zone NOT NULL,
			expires_at	timestamp with time zone NOT NULL,
			CONSTRAINT uq_device_nonces UNIQUE (nonce_hash, device_id)
		);

		CREATE TABLE IF NOT EXISTS device_commands (
			command_id			TEXT NOT NULL,
			device_id			TEXT NOT NULL,
			tenant				TEXT NOT NULL,
			name				TEXT NOT NULL,
			payload				TEXT NULL,
			priority			INT NOT NULL DEFAULT 0,
			issued_at			timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at			timestamp with time zone NOT NULL,
			server_signature	TEXT NOT NULL,
			status				TEXT NOT NULL DEFAULT 'pending',
			completed_at		timestamp with time zone NULL,
			ack_status			TEXT NULL,
			ack_message			TEXT NULL,
			execution_time_ms	INT NULL,
			raw_ack				TEXT NULL,
			CONSTRAINT pkey_device_commands PRIMARY KEY (command_id)
		);

		CREATE TABLE IF NOT EXISTS firmware_releases (
			firmware_id			TEXT NOT NULL,
			version				TEXT NOT NULL,
			device_type			TEXT NOT NULL,
			bundle_url			TEXT NOT NULL,
			checksum			TEXT NOT NULL,
			size_bytes			BIGINT NOT NULL DEFAULT 0,
			policy_id			TEXT NULL,
			server_signature	TEXT NOT NULL,
			created_at			timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deprecated_at		timestamp with time zone NULL,
			CONSTRAINT pkey_firmware_releases PRIMARY KEY (firmware_id)
		);

		CREATE TABLE IF NOT EXISTS device_firmware_status (
			device_id	TEXT NOT NULL,
			firmware_id	TEXT NOT NULL,
			status		TEXT NOT NULL,
			message		TEXT NULL,
			updated_at	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_device_firmware_status PRIMARY KEY (device_id, firmware_id)
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id	TEXT NOT NULL,
			device_id	TEXT NULL,
			tenant		TEXT NULL,
			endpoint	TEXT NOT NULL,
			payload		TEXT NOT NULL,
			response	TEXT NOT NULL,
			status		TEXT NOT NULL,
			created_on	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT pkey_audit_log PRIMARY KEY (audit_id)
		);

		CREATE TABLE IF NOT EXISTS rate_counters (
			device_id		TEXT NOT NULL,
			endpoint		TEXT NOT NULL,
			window_start	timestamp with time zone NOT NULL,
			count			BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT pkey_rate_counters PRIMARY KEY (device_id, endpoint, window_start)
		);

		CREATE TABLE IF NOT EXISTS reports (
			report_id		TEXT NOT NULL,
			tenant			TEXT NOT NULL,
			kind			TEXT NOT NULL,
			params			JSONB NULL,
			status			TEXT NOT NULL DEFAULT 'pending',
			content			BYTEA NULL,
			content_type	TEXT NULL,
			created_on		timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_on	timestamp with time zone NULL,
			CONSTRAINT pkey_reports PRIMARY KEY (report_id)
		);

		CREATE TABLE IF NOT EXISTS device_logs (
			device_id	TEXT NOT NULL,
			tenant		TEXT NOT NULL,
			level		TEXT NOT NULL,
			message		TEXT NOT NULL,
			logged_at	timestamp with time zone NOT NULL,
			created_on	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS attendance_events_employee_ts_idx ON attendance_events (employee_id, ts);
		CREATE INDEX IF NOT EXISTS attendance_events_device_received_idx ON attendance_events (device_id, received_at);
		CREATE INDEX IF NOT EXISTS device_commands_device_status_idx ON device_commands (device_id, status);
		CREATE INDEX IF NOT EXISTS device_nonces_expires_idx ON device_nonces (expires_at);
		CREATE INDEX IF NOT EXISTS audit_log_device_idx ON audit_log (device_id, created_on);
	`)
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a unique constraint
// violation (postgres error class 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
