package postgres

import (
	"context"
	"time"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/metadata"
)

// SaveMetadata inserts or replaces a record.
func (s *Store) SaveMetadata(ctx context.Context, m *metadata.Metadata) error {
	metadata.Touch(m, time.Now().UTC())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shepherd_metadata (name, owner, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, owner) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		m.Name, m.Owner, m.Value, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return wrap("save metadata", err)
	}
	return nil
}

// GetMetadata returns one record.
func (s *Store) GetMetadata(ctx context.Context, name, owner string) (*metadata.Metadata, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+metadataColumns+` FROM shepherd_metadata WHERE name = $1 AND owner = $2`,
		name, owner,
	)
	m, err := scanMetadata(row)
	if err != nil {
		if isNoRows(err) {
			return nil, shepherd.ErrMetadataNotFound
		}
		return nil, wrap("get metadata", err)
	}
	return m, nil
}

// ListMetadata returns every record with the given name ordered by owner.
func (s *Store) ListMetadata(ctx context.Context, name string) ([]*metadata.Metadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+metadataColumns+` FROM shepherd_metadata WHERE name = $1 ORDER BY owner ASC`,
		name,
	)
	if err != nil {
		return nil, wrap("list metadata", err)
	}
	defer rows.Close()

	result := make([]*metadata.Metadata, 0)
	for rows.Next() {
		m, scanErr := scanMetadata(rows)
		if scanErr != nil {
			return nil, wrap("scan metadata", scanErr)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list metadata", err)
	}
	return result, nil
}

// DeleteMetadata removes every record with the given name.
func (s *Store) DeleteMetadata(ctx context.Context, name string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM shepherd_metadata WHERE name = $1`, name)
	if err != nil {
		return 0, wrap("delete metadata", err)
	}
	return int(tag.RowsAffected()), nil
}
