package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skobkin/meshola/internal/domain"
)

type ContactRepo struct {
	db *sql.DB
}

func NewContactRepo(db *sql.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

func (r *ContactRepo) Upsert(ctx context.Context, c domain.Contact) error {
	return upsertContact(ctx, r.db, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertContact(ctx context.Context, db execer, c domain.Contact) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO contacts(public_key, name, last_seen_at, rssi, snr, path_length, has_path, role, is_favorite, is_discovered, latitude, longitude, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(public_key) DO UPDATE SET
			name = excluded.name,
			last_seen_at = CASE
				WHEN excluded.last_seen_at > contacts.last_seen_at THEN excluded.last_seen_at
				ELSE contacts.last_seen_at
			END,
			rssi = excluded.rssi,
			snr = excluded.snr,
			path_length = excluded.path_length,
			has_path = excluded.has_path,
			role = excluded.role,
			is_favorite = excluded.is_favorite,
			is_discovered = excluded.is_discovered,
			latitude = COALESCE(excluded.latitude, contacts.latitude),
			longitude = COALESCE(excluded.longitude, contacts.longitude),
			updated_at = excluded.updated_at
	`, c.PublicKey.String(), c.Name, toUnixMillis(c.LastSeen), c.LastRSSI, c.LastSNR, c.PathLength, boolToInt(c.HasPath),
		int(c.Role), boolToInt(c.IsFavorite), boolToInt(c.IsDiscovered), nullableFloat(c.Latitude), nullableFloat(c.Longitude),
		toUnixMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	return nil
}

// ReplaceAll makes the table hold exactly contacts, keeping row order for
// entries that already exist.
func (r *ContactRepo) ReplaceAll(ctx context.Context, contacts []domain.Contact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace contacts tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS keep_keys(public_key TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create keep table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM keep_keys;`); err != nil {
		return fmt.Errorf("reset keep table: %w", err)
	}
	for _, c := range contacts {
		if c.PublicKey.IsZero() {
			continue
		}
		if err := upsertContact(ctx, tx, c); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO keep_keys(public_key) VALUES (?)`, c.PublicKey.String()); err != nil {
			return fmt.Errorf("mark contact: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE public_key NOT IN (SELECT public_key FROM keep_keys)`); err != nil {
		return fmt.Errorf("prune contacts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace contacts tx: %w", err)
	}

	return nil
}

func (r *ContactRepo) Delete(ctx context.Context, key domain.PublicKey) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE public_key = ?`, key.String()); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}

	return nil
}

// List returns contacts in insertion order.
func (r *ContactRepo) List(ctx context.Context) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT public_key, name, last_seen_at, rssi, snr, path_length, has_path, role, is_favorite, is_discovered, latitude, longitude
		FROM contacts
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Contact
	for rows.Next() {
		var (
			c            domain.Contact
			key          string
			seenMs       int64
			role         int
			hasPath      int64
			isFavorite   int64
			isDiscovered int64
			lat          sql.NullFloat64
			lon          sql.NullFloat64
		)
		if err := rows.Scan(&key, &c.Name, &seenMs, &c.LastRSSI, &c.LastSNR, &c.PathLength, &hasPath, &role,
			&isFavorite, &isDiscovered, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		pk, err := domain.ParsePublicKey(key)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.PublicKey = pk
		c.LastSeen = fromUnixMillis(seenMs)
		c.Role = domain.ContactRole(role)
		c.HasPath = hasPath != 0
		c.IsFavorite = isFavorite != 0
		c.IsDiscovered = isDiscovered != 0
		if lat.Valid {
			v := lat.Float64
			c.Latitude = &v
		}
		if lon.Valid {
			v := lon.Float64
			c.Longitude = &v
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}

	return out, nil
}
