// Package storage keeps published report message handles in SQLite, so a restart can replace the previous message.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/woozymasta/arkstatus/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Entry is a stored handle together with the publish failure streak of its tenant.
type Entry struct {
	models.PublishedMessageHandle
	LastError string `json:"last_error,omitempty"`
	Failures  int    `json:"failures"`
}

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New opens the database, sets connection pool parameters and runs migrations.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetHandle returns the stored entry of a tenant, nil when there is none.
func (r *Repository) GetHandle(ctx context.Context, tenantID string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, channel_id, message_id, published_at, failures, last_error
		FROM report_messages
		WHERE tenant_id = ?
	`, tenantID)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// SaveHandle stores a successfully published message and resets the failure streak.
func (r *Repository) SaveHandle(ctx context.Context, h models.PublishedMessageHandle) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO report_messages (tenant_id, channel_id, message_id, published_at, failures, last_error)
	VALUES (?, ?, ?, ?, 0, '')
	ON CONFLICT(tenant_id) DO UPDATE SET
		channel_id   = excluded.channel_id,
		message_id   = excluded.message_id,
		published_at = excluded.published_at,
		failures     = 0,
		last_error   = '';
	`, h.TenantID, h.ChannelID, h.MessageID, h.PublishedAt.UTC())

	return err
}

// RecordFailure clears the message reference of a tenant and extends its failure streak.
// The time of the last successful publish is kept.
func (r *Repository) RecordFailure(ctx context.Context, tenantID, channelID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err := r.db.ExecContext(ctx, `
	INSERT INTO report_messages (tenant_id, channel_id, message_id, published_at, failures, last_error)
	VALUES (?, ?, '', ?, 1, ?)
	ON CONFLICT(tenant_id) DO UPDATE SET
		channel_id = excluded.channel_id,
		message_id = '',
		failures   = report_messages.failures + 1,
		last_error = excluded.last_error;
	`, tenantID, channelID, time.Time{}.UTC(), msg)

	return err
}

// DeleteHandle forgets the stored entry of a tenant.
func (r *Repository) DeleteHandle(ctx context.Context, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM report_messages WHERE tenant_id = ?`, tenantID)
	return err
}

// ListHandles returns all stored entries ordered by tenant id.
func (r *Repository) ListHandles(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, channel_id, message_id, published_at, failures, last_error
		FROM report_messages
		ORDER BY tenant_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// DeleteHandlesExcept removes entries of tenants not listed in keep and returns how many were removed.
func (r *Repository) DeleteHandlesExcept(ctx context.Context, keep []string) (int64, error) {
	query := `DELETE FROM report_messages`
	var args []any

	if len(keep) > 0 {
		query += ` WHERE tenant_id NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	err := s.Scan(&e.TenantID, &e.ChannelID, &e.MessageID, &e.PublishedAt, &e.Failures, &e.LastError)
	return e, err
}
