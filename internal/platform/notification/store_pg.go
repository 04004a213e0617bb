package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore persists notifications in the notification table. Writes join any
// transaction already on the context, so a row enqueued during a business
// write commits or reverts together with it.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

const notificationCols = `id, type, recipient, subject, body, template_id, template_data,
	priority, status, delivered, error, metadata, created_at, sent_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.Type, &n.Recipient, &n.Subject, &n.Body, &n.TemplateID,
		&n.TemplateData, &n.Priority, &n.Status, &n.Delivered, &n.Error, &n.Metadata,
		&n.CreatedAt, &n.SentAt)
	return &n, err
}

func (s *PGStore) Insert(ctx context.Context, n *Notification) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO notification
			(id, type, recipient, subject, body, template_id, template_data, priority, status, delivered, error, metadata, created_at, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		n.ID, n.Type, n.Recipient, n.Subject, n.Body, n.TemplateID, n.TemplateData,
		n.Priority, n.Status, n.Delivered, n.Error, n.Metadata, n.CreatedAt, n.SentAt)
	return err
}

func (s *PGStore) Update(ctx context.Context, n *Notification) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE notification SET status=$2, delivered=$3, error=$4, sent_at=$5 WHERE id = $1`,
		n.ID, n.Status, n.Delivered, n.Error, n.SentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %q not found", n.ID)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Notification, error) {
	n, err := scanNotification(s.conn(ctx).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return n, err
}

func (s *PGStore) ListByRecipient(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+notificationCols+` FROM notification
		WHERE recipient = $1
		ORDER BY created_at
		LIMIT $2`,
		recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PGStore) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM notification GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
