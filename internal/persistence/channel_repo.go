package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skobkin/meshola/internal/domain"
)

type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

// Replace stores channels as the complete channel table, indexed by position.
func (r *ChannelRepo) Replace(ctx context.Context, channels []domain.Channel) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace channels tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channels`); err != nil {
		return fmt.Errorf("clear channels: %w", err)
	}
	for i, ch := range channels {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channels(idx, channel_id, name, is_public)
			VALUES (?, ?, ?, ?)
		`, i, ch.ID.String(), ch.Name, boolToInt(ch.IsPublic)); err != nil {
			return fmt.Errorf("insert channel %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace channels tx: %w", err)
	}

	return nil
}

func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, channel_id, name, is_public
		FROM channels
		ORDER BY idx
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Channel
	for rows.Next() {
		var (
			ch       domain.Channel
			idx      int
			rawID    string
			isPublic int64
		)
		if err := rows.Scan(&idx, &rawID, &ch.Name, &isPublic); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		id, err := domain.ParseChannelID(rawID)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.ID = id
		ch.Index = uint8(idx) // #nosec G115 -- channel tables are small.
		ch.IsPublic = isPublic != 0
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return out, nil
}
