// Package savedb is the durable store for serialized simulation state and
// the replay-file index, backed by SQLite. Save blobs carry a BLAKE3
// integrity hash so a corrupted row fails loudly at load instead of feeding
// garbage into the engine.
package savedb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/sim/engine"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS saves (
			id              TEXT PRIMARY KEY,
			created_at      TEXT NOT NULL,
			pack_id         TEXT NOT NULL,
			digest_hash     TEXT NOT NULL,
			digest_version  INTEGER NOT NULL,
			step            INTEGER NOT NULL,
			integrity       TEXT NOT NULL,
			payload         BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS saves_pack ON saves(pack_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS replays (
			id          TEXT PRIMARY KEY,
			created_at  TEXT NOT NULL,
			path        TEXT NOT NULL,
			end_step    INTEGER NOT NULL,
			checksum    TEXT NOT NULL,
			commands    INTEGER NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("savedb migrate: %w", err)
		}
	}
	return nil
}

// SaveBlob is what a save row's payload decodes to.
type SaveBlob struct {
	State engine.SerializedResourceState `json:"state"`
	Queue engine.SavedQueue              `json:"queue"`
}

// SaveMeta describes a stored save without its payload.
type SaveMeta struct {
	ID        string
	CreatedAt time.Time
	PackID    string
	Digest    content.Digest
	Step      uint64
}

// PutSave persists a save blob and returns its generated id.
func (s *Store) PutSave(ctx context.Context, packID string, digest content.Digest, step uint64, blob SaveBlob) (string, error) {
	payload, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(payload)
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO saves (id, created_at, pack_id, digest_hash, digest_version, step, integrity, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339), packID,
		digest.Hash, digest.Version, int64(step),
		hex.EncodeToString(sum[:]), payload)
	if err != nil {
		return "", fmt.Errorf("savedb put: %w", err)
	}
	return id, nil
}

// GetSave loads and integrity-checks one save. A BLAKE3 mismatch is a hard
// failure: the payload must not reach the engine.
func (s *Store) GetSave(ctx context.Context, id string) (SaveMeta, SaveBlob, error) {
	var (
		meta      SaveMeta
		createdAt string
		hash      string
		version   int
		step      int64
		integrity string
		payload   []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, pack_id, digest_hash, digest_version, step, integrity, payload
		 FROM saves WHERE id = ?`, id).
		Scan(&createdAt, &meta.PackID, &hash, &version, &step, &integrity, &payload)
	if err != nil {
		return SaveMeta{}, SaveBlob{}, err
	}
	sum := blake3.Sum256(payload)
	if got := hex.EncodeToString(sum[:]); got != integrity {
		return SaveMeta{}, SaveBlob{}, fmt.Errorf("save %s: integrity mismatch (stored %s, computed %s)", id, integrity, got)
	}

	meta.ID = id
	meta.Digest = content.Digest{Hash: hash, Version: version}
	meta.Step = uint64(step)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		meta.CreatedAt = t
	}
	var blob SaveBlob
	if err := json.Unmarshal(payload, &blob); err != nil {
		return SaveMeta{}, SaveBlob{}, fmt.Errorf("save %s: decode: %w", id, err)
	}
	// The stored digest row is a summary; the blob's id list is the truth.
	meta.Digest = content.ComputeDigest(blob.State.IDs)
	return meta, blob, nil
}

// ListSaves returns metadata for every save of a pack, newest first.
func (s *Store) ListSaves(ctx context.Context, packID string) ([]SaveMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, pack_id, digest_hash, digest_version, step
		 FROM saves WHERE pack_id = ? ORDER BY created_at DESC`, packID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveMeta
	for rows.Next() {
		var m SaveMeta
		var createdAt, hash string
		var version int
		var step int64
		if err := rows.Scan(&m.ID, &createdAt, &m.PackID, &hash, &version, &step); err != nil {
			return nil, err
		}
		m.Digest = content.Digest{Hash: hash, Version: version}
		m.Step = uint64(step)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			m.CreatedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplayRow indexes an exported replay file on disk.
type ReplayRow struct {
	ID       string
	Path     string
	EndStep  uint64
	Checksum string
	Commands int
}

func (s *Store) IndexReplay(ctx context.Context, r ReplayRow) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replays (id, created_at, path, end_step, checksum, commands)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, time.Now().UTC().Format(time.RFC3339), r.Path, int64(r.EndStep), r.Checksum, r.Commands)
	if err != nil {
		return fmt.Errorf("savedb index replay: %w", err)
	}
	return nil
}

func (s *Store) ListReplays(ctx context.Context) ([]ReplayRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, end_step, checksum, commands FROM replays ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReplayRow
	for rows.Next() {
		var r ReplayRow
		var endStep int64
		if err := rows.Scan(&r.ID, &r.Path, &endStep, &r.Checksum, &r.Commands); err != nil {
			return nil, err
		}
		r.EndStep = uint64(endStep)
		out = append(out, r)
	}
	return out, rows.Err()
}
