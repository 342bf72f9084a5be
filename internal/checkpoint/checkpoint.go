// Package checkpoint is a SQLite-backed durable store for graph execution
// state, modeled directly on the original system's LangGraph SQLite
// checkpointer: one row per checkpoint, channel values deduplicated into a
// separate blobs table keyed by (channel, version), and a pending-writes
// table used to replay a task's writes without re-executing it.
package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesenh/novelgen/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// Checkpoint is one snapshot of graph execution: the set of channel
// versions active at this point. The channel values themselves live in the
// blobs table and are joined in by Saver.GetTuple.
type Checkpoint struct {
	ID              string            `json:"id"`
	ChannelVersions map[string]string `json:"channel_versions"`
}

// Write is one task's pending write to a channel, recorded before the
// owning node is known to have committed, so a crash mid-step can be
// replayed without re-running completed tasks.
type Write struct {
	TaskID   string
	TaskPath string
	Channel  string
	Value    json.RawMessage
}

// Tuple is everything GetTuple/List return for one checkpoint: the
// checkpoint itself, its metadata, resolved channel values, the parent
// checkpoint id, and any pending writes recorded against it.
type Tuple struct {
	ThreadID            string
	CheckpointNS        string
	Checkpoint          Checkpoint
	Metadata            map[string]any
	ChannelValues       map[string]json.RawMessage
	ParentCheckpointID  string
	PendingWrites       []Write
}

// Saver is a checkpoint store backed by one SQLite database file.
type Saver struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens (or creates) the
// SQLite database at path in WAL mode, and ensures the schema exists.
func Open(path string) (*Saver, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.NewCorruptionError(path, fmt.Errorf("ensure schema: %w", err))
	}

	return &Saver{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Saver) Close() error { return s.db.Close() }

// NextVersion returns a monotonically increasing, lexicographically
// sortable version id: "<int:032>.<random:016>", matching the original
// get_next_version exactly so checkpoint ordering survives across restarts
// and across the Python/Go boundary if a project is ever moved.
func NextVersion(current string) string {
	var n int64
	if current != "" {
		if dot := strings.IndexByte(current, '.'); dot >= 0 {
			fmt.Sscanf(current[:dot], "%d", &n)
		}
	}
	n++
	return fmt.Sprintf("%032d.%016x", n, rand.Int63())
}

// Put persists a new checkpoint: any channel named in newVersions gets a
// row in blobs (its value taken from values, or an empty marker if the
// channel is absent — matching channels that a node declined to touch this
// step), then the checkpoint row itself with parentCheckpointID pointing
// at the prior head.
func (s *Saver) Put(ctx context.Context, threadID, ns string, cp Checkpoint, metadata map[string]any, newVersions map[string]string, values map[string]json.RawMessage, parentCheckpointID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for channel, version := range newVersions {
		val, ok := values[channel]
		valueType := "json"
		var blob []byte
		if ok {
			blob = []byte(val)
		} else {
			valueType = "empty"
			blob = nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO blobs (thread_id, checkpoint_ns, channel, version, value_type, value_blob)
			VALUES (?, ?, ?, ?, ?, ?)`, threadID, ns, channel, version, valueType, blob); err != nil {
			return fmt.Errorf("insert blob %s@%s: %w", channel, version, err)
		}
	}

	cpBlob, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	metaBlob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var parent any
	if parentCheckpointID != "" {
		parent = parentCheckpointID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints
			(thread_id, checkpoint_ns, checkpoint_id, checkpoint_type, checkpoint_blob, metadata_type, metadata_blob, parent_checkpoint_id, created_at)
		VALUES (?, ?, ?, 'json', ?, 'json', ?, ?, ?)`,
		threadID, ns, cp.ID, cpBlob, metaBlob, parent, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	return tx.Commit()
}

// latestCheckpointID returns the most recent checkpoint id for a thread,
// or "" if none exists.
func (s *Saver) latestCheckpointID(ctx context.Context, threadID, ns string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id FROM checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ?
		ORDER BY checkpoint_id DESC LIMIT 1`, threadID, ns).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// GetTuple resolves a checkpoint (the latest one, if checkpointID is
// empty), joins in its channel values from blobs, and attaches any pending
// writes recorded against it.
func (s *Saver) GetTuple(ctx context.Context, threadID, ns, checkpointID string) (*Tuple, error) {
	if checkpointID == "" {
		latest, err := s.latestCheckpointID(ctx, threadID, ns)
		if err != nil {
			return nil, fmt.Errorf("find latest checkpoint: %w", err)
		}
		if latest == "" {
			return nil, nil
		}
		checkpointID = latest
	}

	var cpBlob, metaBlob []byte
	var parent sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_blob, metadata_blob, parent_checkpoint_id
		FROM checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
		threadID, ns, checkpointID).Scan(&cpBlob, &metaBlob, &parent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.NewCorruptionError("checkpoint row", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(cpBlob, &cp); err != nil {
		return nil, errs.NewCorruptionError("checkpoint blob", err)
	}
	var metadata map[string]any
	if err := json.Unmarshal(metaBlob, &metadata); err != nil {
		return nil, errs.NewCorruptionError("checkpoint metadata", err)
	}

	values, err := s.loadBlobs(ctx, threadID, ns, cp.ChannelVersions)
	if err != nil {
		return nil, err
	}
	writes, err := s.loadWrites(ctx, threadID, ns, checkpointID)
	if err != nil {
		return nil, err
	}

	return &Tuple{
		ThreadID:           threadID,
		CheckpointNS:       ns,
		Checkpoint:         cp,
		Metadata:           metadata,
		ChannelValues:      values,
		ParentCheckpointID: parent.String,
		PendingWrites:      writes,
	}, nil
}

func (s *Saver) loadBlobs(ctx context.Context, threadID, ns string, channelVersions map[string]string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(channelVersions))
	for channel, version := range channelVersions {
		var valueType string
		var blob []byte
		err := s.db.QueryRowContext(ctx, `
			SELECT value_type, value_blob FROM blobs
			WHERE thread_id = ? AND checkpoint_ns = ? AND channel = ? AND version = ?`,
			threadID, ns, channel, version).Scan(&valueType, &blob)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load blob %s@%s: %w", channel, version, err)
		}
		if valueType == "empty" {
			continue
		}
		out[channel] = json.RawMessage(blob)
	}
	return out, nil
}

func (s *Saver) loadWrites(ctx context.Context, threadID, ns, checkpointID string) ([]Write, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, task_path, channel, value_blob FROM writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		ORDER BY task_id, write_idx`, threadID, ns, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("load writes: %w", err)
	}
	defer rows.Close()

	var out []Write
	for rows.Next() {
		var w Write
		var blob []byte
		if err := rows.Scan(&w.TaskID, &w.TaskPath, &w.Channel, &blob); err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		w.Value = blob
		out = append(out, w)
	}
	return out, rows.Err()
}

// writeIndexFor mirrors the original's WRITES_IDX_MAP: channels written
// exactly once per task get a stable, well-known index so a replayed
// checkpoint can tell "the same write happened again" from "a new write
// arrived"; everything else gets its natural position in the task's write
// list.
var writeIndexFor = map[string]int{
	"chapter_plan":    0,
	"chapter_draft":   1,
	"audit_result":    2,
	"revision_round":  3,
	"revision_id":     4,
	"current_chapter": 5,
}

// PutWrites records a task's pending writes, skipping any whose computed
// index is negative (the original's convention for "do not persist this
// write", used for purely internal bookkeeping channels). Writes are
// inserted with INSERT OR IGNORE, so replaying the same task is a no-op.
func (s *Saver) PutWrites(ctx context.Context, threadID, ns, checkpointID, taskID, taskPath string, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, w := range writes {
		idx, ok := writeIndexFor[w.Channel]
		if !ok {
			idx = i
		}
		if idx < 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO writes
				(thread_id, checkpoint_ns, checkpoint_id, task_id, write_idx, channel, value_type, value_blob, task_path)
			VALUES (?, ?, ?, ?, ?, ?, 'json', ?, ?)`,
			threadID, ns, checkpointID, taskID, idx, w.Channel, []byte(w.Value), taskPath); err != nil {
			return fmt.Errorf("insert write %s/%s: %w", taskID, w.Channel, err)
		}
	}
	return tx.Commit()
}

// List returns up to limit checkpoints for a thread, most recent first.
func (s *Saver) List(ctx context.Context, threadID, ns string, limit int) ([]Tuple, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id FROM checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ?
		ORDER BY checkpoint_id DESC LIMIT ?`, threadID, ns, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Tuple, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTuple(ctx, threadID, ns, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

// Delete removes the database file entirely, used by rollback to force
// the next run to rebuild state from the filesystem-authoritative
// artifacts rather than from (now-invalid) checkpoint history.
func Delete(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
