// Package history implements the sqlite-backed ports.HistoryStore, the
// optional persistence layer for the shared document authority's undo/
// redo ring buffer and restart recovery. Grounded on the teacher's
// internal/store.Store: embedded migrations applied through a
// schema_migrations tracking table, WAL journal mode, one *sql.DB shared
// across all calls.
package history

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the sqlite ports.HistoryStore implementation.
type Store struct {
	db *sql.DB
}

var _ ports.HistoryStore = (*Store)(nil)

// Open opens (creating if necessary) the sqlite database at dsn and
// applies any pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// asI64/asU64 round-trip a uint64 through sqlite's signed INTEGER column
// type without losing precision (two's-complement reinterpretation).
func asI64(v uint64) int64 { return int64(v) }
func asU64(v int64) uint64 { return uint64(v) }

// LoadOrCreateDoc implements ports.HistoryStore.
func (s *Store) LoadOrCreateDoc(uri string, initRope string, seed ids.Version) (ports.DocState, error) {
	var rope string
	var epoch, seq, hash64, lenChars int64
	err := s.db.QueryRow(
		`SELECT rope, epoch, seq, hash64, len_chars FROM doc_state WHERE uri = ?`, uri,
	).Scan(&rope, &epoch, &seq, &hash64, &lenChars)
	if err == nil {
		return ports.DocState{
			Rope: rope,
			Version: ids.Version{
				Epoch: asU64(epoch), Seq: asU64(seq), Hash64: asU64(hash64), LenChars: asU64(lenChars),
			},
			Loaded: true,
		}, nil
	}
	if err != sql.ErrNoRows {
		return ports.DocState{}, fmt.Errorf("load doc_state %s: %w", uri, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO doc_state (uri, rope, epoch, seq, hash64, len_chars) VALUES (?, ?, ?, ?, ?, ?)`,
		uri, initRope, asI64(seed.Epoch), asI64(seed.Seq), asI64(seed.Hash64), asI64(seed.LenChars),
	)
	if err != nil {
		return ports.DocState{}, fmt.Errorf("create doc_state %s: %w", uri, err)
	}
	return ports.DocState{Rope: initRope, Version: seed, Loaded: false}, nil
}

// UpdateDocState implements ports.HistoryStore.
func (s *Store) UpdateDocState(uri string, v ids.Version) error {
	_, err := s.db.Exec(
		`UPDATE doc_state SET epoch = ?, seq = ?, hash64 = ?, len_chars = ? WHERE uri = ?`,
		asI64(v.Epoch), asI64(v.Seq), asI64(v.Hash64), asI64(v.LenChars), uri,
	)
	return err
}

// AppendEditWithCheckpoint implements ports.HistoryStore: it appends one
// history row and, when the per-uri row count exceeds maxNodes, evicts the
// oldest rows — the sqlite-backed mirror of the in-memory ring buffer's
// eviction rule (spec §4.5, MaxHistoryEntries).
func (s *Store) AppendEditWithCheckpoint(uri string, entry ports.HistoryEntry, maxNodes int) error {
	fwd, err := json.Marshal(entry.ForwardTx)
	if err != nil {
		return fmt.Errorf("marshal forward tx: %w", err)
	}
	inv, err := json.Marshal(entry.InverseTx)
	if err != nil {
		return fmt.Errorf("marshal inverse tx: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var nextSeq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq_no), 0) + 1 FROM doc_history WHERE uri = ?`, uri).Scan(&nextSeq); err != nil {
		return fmt.Errorf("next seq_no: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO doc_history (uri, seq_no, group_id, origin_session, forward_tx, inverse_tx, post_epoch, post_seq, post_hash64, post_len_chars)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uri, nextSeq, entry.GroupID, int64(entry.Origin), string(fwd), string(inv),
		asI64(entry.PostState.Epoch), asI64(entry.PostState.Seq), asI64(entry.PostState.Hash64), asI64(entry.PostState.LenChars),
	)
	if err != nil {
		return fmt.Errorf("insert doc_history: %w", err)
	}

	if maxNodes > 0 {
		if _, err := tx.Exec(
			`DELETE FROM doc_history WHERE uri = ? AND seq_no <= (
				SELECT MAX(seq_no) - ? FROM doc_history WHERE uri = ?
			)`, uri, maxNodes, uri,
		); err != nil {
			return fmt.Errorf("evict doc_history: %w", err)
		}
	}

	return tx.Commit()
}

// LoadUndoGroup implements ports.HistoryStore: the undo group for the
// current state `at` is the history row whose recorded post-state equals
// `at` — its InverseTx takes the document from `at` back to the state
// before that edit.
func (s *Store) LoadUndoGroup(uri string, at ids.Version) (ports.HistoryEntry, bool, error) {
	return s.loadGroupWhere(uri,
		`post_epoch = ? AND post_seq = ? AND post_hash64 = ? AND post_len_chars = ?`,
		asI64(at.Epoch), asI64(at.Seq), asI64(at.Hash64), asI64(at.LenChars),
	)
}

// LoadRedoGroup implements ports.HistoryStore: the redo group for the
// current state `at` is the row immediately following the row whose
// post-state equals `at` (i.e. the edit that was most recently undone);
// for a document with no matching row, `at` is treated as the document's
// pre-history origin and the first recorded edit is the redo candidate.
func (s *Store) LoadRedoGroup(uri string, at ids.Version) (ports.HistoryEntry, bool, error) {
	var predecessorSeq sql.NullInt64
	err := s.db.QueryRow(
		`SELECT seq_no FROM doc_history WHERE uri = ? AND post_epoch = ? AND post_seq = ? AND post_hash64 = ? AND post_len_chars = ?`,
		uri, asI64(at.Epoch), asI64(at.Seq), asI64(at.Hash64), asI64(at.LenChars),
	).Scan(&predecessorSeq)
	switch {
	case err == sql.ErrNoRows:
		return s.loadGroupWhere(uri, `seq_no = 1`)
	case err != nil:
		return ports.HistoryEntry{}, false, fmt.Errorf("find redo predecessor: %w", err)
	default:
		return s.loadGroupWhere(uri, `seq_no = ?`, predecessorSeq.Int64+1)
	}
}

func (s *Store) loadGroupWhere(uri string, whereClause string, args ...any) (ports.HistoryEntry, bool, error) {
	query := fmt.Sprintf(
		`SELECT group_id, origin_session, forward_tx, inverse_tx, post_epoch, post_seq, post_hash64, post_len_chars
		 FROM doc_history WHERE uri = ? AND %s`, whereClause)
	row := s.db.QueryRow(query, append([]any{uri}, args...)...)

	var entry ports.HistoryEntry
	var origin int64
	var fwdJSON, invJSON string
	var postEpoch, postSeq, postHash, postLen int64
	err := row.Scan(&entry.GroupID, &origin, &fwdJSON, &invJSON, &postEpoch, &postSeq, &postHash, &postLen)
	if err == sql.ErrNoRows {
		return ports.HistoryEntry{}, false, nil
	}
	if err != nil {
		return ports.HistoryEntry{}, false, fmt.Errorf("load history row: %w", err)
	}

	if err := json.Unmarshal([]byte(fwdJSON), &entry.ForwardTx); err != nil {
		return ports.HistoryEntry{}, false, fmt.Errorf("unmarshal forward tx: %w", err)
	}
	if err := json.Unmarshal([]byte(invJSON), &entry.InverseTx); err != nil {
		return ports.HistoryEntry{}, false, fmt.Errorf("unmarshal inverse tx: %w", err)
	}
	entry.Origin = ids.SessionId(origin)
	entry.PostState = ids.Version{Epoch: asU64(postEpoch), Seq: asU64(postSeq), Hash64: asU64(postHash), LenChars: asU64(postLen)}
	return entry, true, nil
}
