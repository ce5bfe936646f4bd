package profiling

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	label      TEXT    NOT NULL,
	digest     TEXT    NOT NULL,
	created_ns INTEGER NOT NULL,
	cores      INTEGER NOT NULL,
	trace      BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS task_events (
	profile_id INTEGER NOT NULL REFERENCES profiles(id),
	core       INTEGER NOT NULL,
	id         INTEGER NOT NULL,
	type       INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	start_ns   INTEGER NOT NULL,
	end_ns     INTEGER NOT NULL,
	PRIMARY KEY (profile_id, core, id)
);
CREATE TABLE IF NOT EXISTS queue_events (
	profile_id INTEGER NOT NULL REFERENCES profiles(id),
	core       INTEGER NOT NULL,
	id         INTEGER NOT NULL,
	ts_ns      INTEGER NOT NULL,
	PRIMARY KEY (profile_id, core, id)
);`

// Store persists profiles into a SQLite database for offline comparison
// across runs.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("profiling: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("profiling: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the exported trace, its digest, and every raw event of p in
// one transaction and returns the new profile id. Capacity drops do not
// prevent saving.
func (s *Store) Save(ctx context.Context, p *Profiler, label string) (int64, error) {
	trace, err := p.Profile()
	if err != nil && p.Err() == nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (label, digest, created_ns, cores, trace) VALUES (?, ?, ?, ?, ?)`,
		label, Digest(trace), time.Now().UnixNano(), p.Cores(), trace)
	if err != nil {
		return 0, fmt.Errorf("profiling: insert profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	taskStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO task_events (profile_id, core, id, type, name, start_ns, end_ns) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer taskStmt.Close()

	queueStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO queue_events (profile_id, core, id, ts_ns) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer queueStmt.Close()

	for slot := 0; slot < p.Cores(); slot++ {
		core := p.Label(slot)
		for _, ti := range p.Tasks(slot) {
			if _, err := taskStmt.ExecContext(ctx, id, core, int64(ti.ID), ti.Type, ti.Name, ti.Start, ti.End); err != nil {
				return 0, fmt.Errorf("profiling: insert task event: %w", err)
			}
		}
		for _, qi := range p.QueueEvents(slot) {
			if _, err := queueStmt.ExecContext(ctx, id, core, int64(qi.ID), qi.Timestamp); err != nil {
				return 0, fmt.Errorf("profiling: insert queue event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// StoredProfile is one row of the profiles table.
type StoredProfile struct {
	ID      int64
	Label   string
	Digest  string
	Created time.Time
	Cores   int
	Trace   []byte
}

// Load returns the stored profile with the given id.
func (s *Store) Load(ctx context.Context, id int64) (StoredProfile, error) {
	sp := StoredProfile{ID: id}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT label, digest, created_ns, cores, trace FROM profiles WHERE id = ?`, id).
		Scan(&sp.Label, &sp.Digest, &created, &sp.Cores, &sp.Trace)
	if err != nil {
		return StoredProfile{}, fmt.Errorf("profiling: load profile %d: %w", id, err)
	}
	sp.Created = time.Unix(0, created)
	return sp, nil
}

// EventCounts returns the number of stored task and queue events of a
// profile.
func (s *Store) EventCounts(ctx context.Context, id int64) (tasks, enqueues int, err error) {
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_events WHERE profile_id = ?`, id).Scan(&tasks); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_events WHERE profile_id = ?`, id).Scan(&enqueues); err != nil {
		return 0, 0, err
	}
	return tasks, enqueues, nil
}

// FindByDigest returns the ids of profiles whose trace hashes to digest,
// oldest first.
func (s *Store) FindByDigest(ctx context.Context, digest string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM profiles WHERE digest = ? ORDER BY id`, digest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
