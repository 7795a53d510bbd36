package postgres

import (
	"context"
	"errors"

	"github.com/dkeye/Viewing/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reads scheduled viewings and user display names. The coordinator
// never writes to these tables.
type Directory struct {
	db *pgxpool.Pool
}

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

func (d *Directory) SessionMetadata(ctx context.Context, id domain.SessionID) (*domain.SessionMetadata, error) {
	var (
		m         domain.SessionMetadata
		sid       string
		hostID    *string
		status    string
		reference *string
	)
	query := `
		SELECT id, host_user_id, property_ref, scheduled_at, status
		FROM viewing_sessions
		WHERE id = $1`
	err := d.db.QueryRow(ctx, query, string(id)).
		Scan(&sid, &hostID, &reference, &m.ScheduledAt, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMetadataNotFound
		}
		return nil, err
	}
	m.SessionID = domain.SessionID(sid)
	if hostID != nil {
		m.HostUserID = domain.UserID(*hostID)
	}
	if reference != nil {
		m.PropertyRef = *reference
	}
	m.Status = domain.MetadataStatus(status)
	return &m, nil
}

func (d *Directory) DisplayName(ctx context.Context, id domain.UserID) (string, error) {
	var name string
	query := `SELECT display_name FROM users WHERE id = $1`
	if err := d.db.QueryRow(ctx, query, string(id)).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrUserNotFound
		}
		return "", err
	}
	return name, nil
}
