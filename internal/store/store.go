// Package store is the delivery journal: an append-only sqlite record of
// every dispatch attempt. Novelty detection never reads it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Delivery statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

var errNotInitialized = errors.New("store is not initialized")

type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

// Delivery is one journaled send of one post to one channel.
type Delivery struct {
	ID          int64
	Platform    string
	PostID      string
	Kind        string
	PostURL     string
	ChannelID   string
	MessageID   string
	Status      string
	Error       string
	DeliveredAt time.Time
}

// DeliveryFilter holds optional filters for ListDeliveries.
type DeliveryFilter struct {
	Platform string
	Status   string
	Limit    int
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Pollers journal concurrently; every pooled connection waits on the
	// write lock instead of failing.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, nowFn: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordDelivery appends one delivery. DeliveredAt defaults to now.
func (s *Store) RecordDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	if s == nil || s.db == nil {
		return Delivery{}, errNotInitialized
	}

	if strings.TrimSpace(d.Platform) == "" {
		return Delivery{}, errors.New("platform is required")
	}
	if strings.TrimSpace(d.PostID) == "" {
		return Delivery{}, errors.New("post_id is required")
	}
	if strings.TrimSpace(d.ChannelID) == "" {
		return Delivery{}, errors.New("channel_id is required")
	}
	switch d.Status {
	case StatusSent, StatusFailed:
	default:
		return Delivery{}, fmt.Errorf("invalid status %q", d.Status)
	}
	if d.Kind == "" {
		d.Kind = "unknown"
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = s.nowFn()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (
			platform, post_id, kind, post_url, channel_id, message_id, status, error, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.Platform,
		d.PostID,
		d.Kind,
		nullString(d.PostURL),
		d.ChannelID,
		nullString(d.MessageID),
		d.Status,
		nullString(d.Error),
		formatTime(d.DeliveredAt),
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("insert delivery: %w", err)
	}

	d.ID, err = res.LastInsertId()
	if err != nil {
		return Delivery{}, fmt.Errorf("read delivery id: %w", err)
	}
	d.DeliveredAt = d.DeliveredAt.UTC()
	return d, nil
}

// ListDeliveries returns deliveries since the given time, newest first.
func (s *Store) ListDeliveries(ctx context.Context, since time.Time, filters ...DeliveryFilter) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	query := `
		SELECT id, platform, post_id, kind, post_url, channel_id, message_id, status, error, delivered_at
		FROM deliveries
		WHERE delivered_at >= ?`
	args := []any{formatTime(since)}

	var filter DeliveryFilter
	if len(filters) > 0 {
		filter = filters[0]
	}
	if filter.Platform != "" {
		query += " AND platform = ?"
		args = append(args, filter.Platform)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY delivered_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return out, nil
}

// PlatformStats is the per-platform delivery count for a period.
type PlatformStats struct {
	Platform string
	Sent     int
	Failed   int
	LastSent time.Time
}

// Stats aggregates deliveries since the given time per platform.
func (s *Store) Stats(ctx context.Context, since time.Time) ([]PlatformStats, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT platform,
			SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END) AS sent,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed,
			MAX(CASE WHEN status = 'sent' THEN delivered_at END) AS last_sent
		FROM deliveries
		WHERE delivered_at >= ?
		GROUP BY platform
		ORDER BY platform
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get delivery stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []PlatformStats
	for rows.Next() {
		var ps PlatformStats
		var lastSent sql.NullString
		if err := rows.Scan(&ps.Platform, &ps.Sent, &ps.Failed, &lastSent); err != nil {
			return nil, fmt.Errorf("scan delivery stats: %w", err)
		}
		ps.LastSent, err = parseTime(lastSent.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_sent: %w", err)
		}
		stats = append(stats, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery stats: %w", err)
	}

	return stats, nil
}

// PruneOld deletes deliveries older than retainDays. Returns the number of
// rows removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(s.nowFn().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM deliveries WHERE delivered_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old deliveries: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(scanner rowScanner) (Delivery, error) {
	var (
		d                          Delivery
		postURL, messageID, errVal sql.NullString
		deliveredAt                string
	)

	if err := scanner.Scan(
		&d.ID,
		&d.Platform,
		&d.PostID,
		&d.Kind,
		&postURL,
		&d.ChannelID,
		&messageID,
		&d.Status,
		&errVal,
		&deliveredAt,
	); err != nil {
		return Delivery{}, fmt.Errorf("scan delivery: %w", err)
	}

	d.PostURL = postURL.String
	d.MessageID = messageID.String
	d.Error = errVal.String

	var err error
	d.DeliveredAt, err = parseTime(deliveredAt)
	if err != nil {
		return Delivery{}, fmt.Errorf("parse delivered_at: %w", err)
	}

	return d, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// formatTime uses a fixed-width layout so that stored values sort
// lexically in time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
