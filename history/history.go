// Package history keeps a persistent log of connection transitions
// and kill-switch changes in a local SQLite database, feeding the
// --history command and the TUI's recent-events pane.
package history

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/killswitch"
)

// Kind classifies a history entry.
type Kind string

const (
	KindConnection Kind = "connection"
	KindKillSwitch Kind = "killswitch"
)

// Entry is one logged event.
type Entry struct {
	ID      int64
	At      time.Time
	Kind    Kind
	From    string
	To      string
	Profile string
	Detail  string
}

// Store is the SQLite-backed event log.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      INTEGER NOT NULL,
	kind    TEXT    NOT NULL,
	from_s  TEXT    NOT NULL,
	to_s    TEXT    NOT NULL,
	profile TEXT    NOT NULL DEFAULT '',
	detail  TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_at ON events (at DESC);
`

// Open opens (creating if needed) the event log at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.WrapError(err, "failed to open history database")
	}
	// The log is written from one process; a single connection keeps
	// SQLite's locking out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, common.WrapError(err, "failed to create history schema")
	}
	return &Store{db: db}, nil
}

// OpenDefault opens the event log in the application data directory.
func OpenDefault() (*Store, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, common.HistoryFileName))
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordConnection appends a connection transition.
func (s *Store) RecordConnection(ev common.ConnectionEvent) error {
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	} else if ev.UserInitiated {
		detail = "requested"
	}
	return s.append(Entry{
		At:      time.Now(),
		Kind:    KindConnection,
		From:    ev.From.String(),
		To:      ev.To.String(),
		Profile: ev.Profile,
		Detail:  detail,
	})
}

// RecordKillSwitch appends a kill-switch change.
func (s *Store) RecordKillSwitch(change killswitch.Change) error {
	return s.append(Entry{
		At:     time.Now(),
		Kind:   KindKillSwitch,
		From:   fmt.Sprintf("%s/%s", change.OldMode, change.OldState),
		To:     fmt.Sprintf("%s/%s", change.NewMode, change.NewState),
		Detail: "",
	})
}

func (s *Store) append(e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO events (at, kind, from_s, to_s, profile, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.Unix(), string(e.Kind), e.From, e.To, e.Profile, e.Detail,
	)
	if err != nil {
		return common.WrapError(err, "failed to append history entry")
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, at, kind, from_s, to_s, profile, detail FROM events ORDER BY at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, common.WrapError(err, "failed to query history")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			unix int64
			kind string
		)
		if err := rows.Scan(&e.ID, &unix, &kind, &e.From, &e.To, &e.Profile, &e.Detail); err != nil {
			return nil, common.WrapError(err, "failed to scan history entry")
		}
		e.At = time.Unix(unix, 0)
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the cutoff and returns how many
// were removed.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM events WHERE at < ?`, olderThan.Unix())
	if err != nil {
		return 0, common.WrapError(err, "failed to prune history")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
