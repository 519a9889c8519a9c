package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"rollcall/internal/faces"
)

// LookupTemplate returns the cached encoding for key.
func (s *Store) LookupTemplate(ctx context.Context, key faces.CacheKey) (faces.Feature, bool, error) {
	var (
		dim  int
		blob []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT dim, embedding FROM template_cache WHERE label = ? AND digest = ? AND model = ?",
		key.Label, key.Digest, key.Model,
	).Scan(&dim, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query template cache: %w", classify(err))
	}
	feature, err := decodeFeature(blob, dim)
	if err != nil {
		return nil, false, fmt.Errorf("template cache %s: %w", key.Label, err)
	}
	return feature, true, nil
}

// SaveTemplate stores an encoding, replacing any previous one for key.
func (s *Store) SaveTemplate(ctx context.Context, key faces.CacheKey, feature faces.Feature) error {
	_, err := s.execWithRetry(ctx, `
		INSERT INTO template_cache (label, digest, model, dim, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, digest, model) DO UPDATE SET dim = excluded.dim,
			embedding = excluded.embedding, created_at = excluded.created_at`,
		key.Label, key.Digest, key.Model, len(feature), encodeFeature(feature), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save template cache: %w", classify(err))
	}
	return nil
}

// PruneTemplates removes cache rows whose label is not in keep.
func (s *Store) PruneTemplates(ctx context.Context, keep []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune tx: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE IF NOT EXISTS keep_labels (label TEXT PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("create keep table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM keep_labels"); err != nil {
		return 0, fmt.Errorf("reset keep table: %w", err)
	}
	for _, label := range keep {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO keep_labels (label) VALUES (?)", label); err != nil {
			return 0, fmt.Errorf("record keep label: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM template_cache WHERE label NOT IN (SELECT label FROM keep_labels)")
	if err != nil {
		return 0, fmt.Errorf("prune template cache: %w", classify(err))
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", classify(err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func encodeFeature(feature faces.Feature) []byte {
	buf := make([]byte, 4*len(feature))
	for i, v := range feature {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeFeature(blob []byte, dim int) (faces.Feature, error) {
	if dim <= 0 || len(blob) != 4*dim {
		return nil, fmt.Errorf("corrupt embedding: %d bytes for %d dimensions", len(blob), dim)
	}
	feature := make(faces.Feature, dim)
	for i := range feature {
		feature[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return feature, nil
}
