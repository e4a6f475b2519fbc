// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package relstore implements the relational storage backend on
// SQLite. One database file holds all clients; snapshots, stats, and
// crashes are stored as CBOR blobs keyed by (client_id, timestamp),
// while metadata, labels, and the keyword index live in plain columns
// so they can be queried directly.
package relstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/codec"
	"github.com/thehotelbravo/warden/lib/keyword"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/sqlitepool"
	"github.com/thehotelbravo/warden/lib/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	client_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	content BLOB NOT NULL,
	PRIMARY KEY (client_id, timestamp)
);

CREATE TABLE IF NOT EXISTS metadata (
	client_id TEXT PRIMARY KEY,
	first_seen_at INTEGER,
	last_seen_at INTEGER,
	last_booted_at INTEGER,
	last_clock INTEGER,
	last_crash_at INTEGER,
	last_ip TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS labels (
	client_id TEXT NOT NULL,
	name TEXT NOT NULL,
	owner TEXT NOT NULL,
	system INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (client_id, name, owner)
);
CREATE INDEX IF NOT EXISTS labels_by_name ON labels (name);

CREATE TABLE IF NOT EXISTS postings (
	keyword TEXT NOT NULL,
	client_id TEXT NOT NULL,
	PRIMARY KEY (keyword, client_id)
);

CREATE TABLE IF NOT EXISTS stats (
	client_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	content BLOB NOT NULL,
	PRIMARY KEY (client_id, timestamp)
);

CREATE TABLE IF NOT EXISTS crashes (
	client_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	content BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS crashes_by_client ON crashes (client_id, timestamp);

CREATE TABLE IF NOT EXISTS action_requests (
	client_id TEXT NOT NULL,
	task_id INTEGER NOT NULL,
	content BLOB NOT NULL,
	PRIMARY KEY (client_id, task_id)
);
`

// Store is the SQLite-backed implementation of store.Store.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Config holds the parameters for opening a relational store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Open creates or opens the database and applies the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("relstore: Logger is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relstore: %w", err)
	}
	return &Store{pool: pool, logger: cfg.Logger}, nil
}

// Backend implements store.Store.
func (s *Store) Backend() string { return "relational" }

// Close closes the connection pool. Blocks until all borrowed
// connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// WriteSnapshot implements store.Store.
func (s *Store) WriteSnapshot(ctx context.Context, snapshot *fleet.ClientSnapshot) error {
	content, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("relstore: encode snapshot: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relstore: write snapshot: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("relstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO snapshots (client_id, timestamp, content) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{snapshot.ClientID.String(), snapshot.Timestamp, content}})
	if err != nil {
		return fmt.Errorf("relstore: insert snapshot: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO metadata (client_id, first_seen_at, last_seen_at) VALUES (?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			first_seen_at = COALESCE(first_seen_at, excluded.first_seen_at),
			last_seen_at = MAX(COALESCE(last_seen_at, 0), excluded.last_seen_at)`,
		&sqlitex.ExecOptions{Args: []any{snapshot.ClientID.String(), snapshot.Timestamp, snapshot.Timestamp}})
	if err != nil {
		return fmt.Errorf("relstore: update metadata: %w", err)
	}

	for _, token := range keyword.FromSnapshot(snapshot) {
		err = sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO postings (keyword, client_id) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{token, snapshot.ClientID.String()}})
		if err != nil {
			return fmt.Errorf("relstore: insert posting: %w", err)
		}
	}
	return nil
}

// ClientInfo implements store.Store.
func (s *Store) ClientInfo(ctx context.Context, id clientid.ID) (fleet.ClientInfo, error) {
	return s.clientInfoAt(ctx, id, -1)
}

// ClientInfoAt implements store.Store.
func (s *Store) ClientInfoAt(ctx context.Context, id clientid.ID, asOf int64) (fleet.ClientInfo, error) {
	return s.clientInfoAt(ctx, id, asOf)
}

// clientInfoAt assembles a client record. asOf < 0 means latest.
func (s *Store) clientInfoAt(ctx context.Context, id clientid.ID, asOf int64) (fleet.ClientInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fleet.ClientInfo{}, fmt.Errorf("relstore: client info: %w", err)
	}
	defer s.pool.Put(conn)

	info, found, err := s.readClientInfo(conn, id, asOf)
	if err != nil {
		return fleet.ClientInfo{}, err
	}
	if !found {
		return fleet.ClientInfo{}, fmt.Errorf("relstore: %s: %w", id, store.ErrClientNotFound)
	}
	return info, nil
}

// readClientInfo reads one client on an already-borrowed connection.
// found is false when neither a snapshot nor metadata exists.
func (s *Store) readClientInfo(conn *sqlite.Conn, id clientid.ID, asOf int64) (fleet.ClientInfo, bool, error) {
	info := fleet.ClientInfo{ClientID: id}

	query := "SELECT content FROM snapshots WHERE client_id = ?"
	args := []any{id.String()}
	if asOf >= 0 {
		query += " AND timestamp <= ?"
		args = append(args, asOf)
	}
	query += " ORDER BY timestamp DESC LIMIT 1"

	var haveSnapshot bool
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var snapshot fleet.ClientSnapshot
			if err := codec.Unmarshal(columnBlob(stmt, 0), &snapshot); err != nil {
				return err
			}
			info.Snapshot = &snapshot
			haveSnapshot = true
			return nil
		},
	})
	if err != nil {
		return fleet.ClientInfo{}, false, fmt.Errorf("relstore: read snapshot: %w", err)
	}

	metadata, haveMetadata, err := s.readMetadata(conn, id)
	if err != nil {
		return fleet.ClientInfo{}, false, err
	}
	info.Metadata = metadata

	if !haveSnapshot && !haveMetadata {
		return fleet.ClientInfo{}, false, nil
	}

	labels, err := s.readLabels(conn, id)
	if err != nil {
		return fleet.ClientInfo{}, false, err
	}
	info.Labels = labels
	return info, true, nil
}

// MultiClientInfo implements store.Store.
func (s *Store) MultiClientInfo(ctx context.Context, ids []clientid.ID) (map[clientid.ID]fleet.ClientInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: multi client info: %w", err)
	}
	defer s.pool.Put(conn)

	result := make(map[clientid.ID]fleet.ClientInfo, len(ids))
	for _, id := range ids {
		info, found, err := s.readClientInfo(conn, id, -1)
		if err != nil {
			return nil, err
		}
		if found {
			result[id] = info
		}
	}
	return result, nil
}

// SnapshotHistory implements store.Store.
func (s *Store) SnapshotHistory(ctx context.Context, id clientid.ID, start, end int64) ([]fleet.ClientSnapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: snapshot history: %w", err)
	}
	defer s.pool.Put(conn)

	var snapshots []fleet.ClientSnapshot
	err = sqlitex.Execute(conn,
		`SELECT content FROM snapshots
		WHERE client_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC`,
		&sqlitex.ExecOptions{
			Args: []any{id.String(), start, end},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var snapshot fleet.ClientSnapshot
				if err := codec.Unmarshal(columnBlob(stmt, 0), &snapshot); err != nil {
					return err
				}
				snapshots = append(snapshots, snapshot)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relstore: snapshot history: %w", err)
	}
	return snapshots, nil
}

// AllClientIDs implements store.Store.
func (s *Store) AllClientIDs(ctx context.Context) ([]clientid.ID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: all client ids: %w", err)
	}
	defer s.pool.Put(conn)
	return allClientIDs(conn)
}

func allClientIDs(conn *sqlite.Conn) ([]clientid.ID, error) {
	var ids []clientid.ID
	err := sqlitex.Execute(conn,
		`SELECT client_id FROM snapshots
		UNION SELECT client_id FROM metadata
		ORDER BY client_id ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id, err := clientid.Parse(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				ids = append(ids, id)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relstore: all client ids: %w", err)
	}
	return ids, nil
}

// Metadata implements store.Store.
func (s *Store) Metadata(ctx context.Context, id clientid.ID) (fleet.ClientMetadata, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fleet.ClientMetadata{}, fmt.Errorf("relstore: metadata: %w", err)
	}
	defer s.pool.Put(conn)

	metadata, found, err := s.readMetadata(conn, id)
	if err != nil {
		return fleet.ClientMetadata{}, err
	}
	if !found {
		return fleet.ClientMetadata{}, fmt.Errorf("relstore: %s: %w", id, store.ErrClientNotFound)
	}
	return metadata, nil
}

func (s *Store) readMetadata(conn *sqlite.Conn, id clientid.ID) (fleet.ClientMetadata, bool, error) {
	var (
		metadata fleet.ClientMetadata
		found    bool
	)
	err := sqlitex.Execute(conn,
		`SELECT first_seen_at, last_seen_at, last_booted_at, last_clock, last_crash_at, last_ip
		FROM metadata WHERE client_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				metadata.FirstSeenAt = columnNullableInt(stmt, 0)
				metadata.LastSeenAt = columnNullableInt(stmt, 1)
				metadata.LastBootedAt = columnNullableInt(stmt, 2)
				metadata.LastClock = columnNullableInt(stmt, 3)
				metadata.LastCrashAt = columnNullableInt(stmt, 4)
				metadata.LastIP = stmt.ColumnText(5)
				return nil
			},
		})
	if err != nil {
		return fleet.ClientMetadata{}, false, fmt.Errorf("relstore: read metadata: %w", err)
	}
	return metadata, found, nil
}

// SetMetadata implements store.Store.
func (s *Store) SetMetadata(ctx context.Context, id clientid.ID, metadata fleet.ClientMetadata) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relstore: set metadata: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO metadata
		(client_id, first_seen_at, last_seen_at, last_booted_at, last_clock, last_crash_at, last_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			id.String(),
			nullableInt(metadata.FirstSeenAt),
			nullableInt(metadata.LastSeenAt),
			nullableInt(metadata.LastBootedAt),
			nullableInt(metadata.LastClock),
			nullableInt(metadata.LastCrashAt),
			metadata.LastIP,
		}})
	if err != nil {
		return fmt.Errorf("relstore: set metadata: %w", err)
	}
	return nil
}

// AddLabels implements store.Store.
func (s *Store) AddLabels(ctx context.Context, id clientid.ID, owner string, names []string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relstore: add labels: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("relstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	known, err := clientExists(conn, id)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("relstore: %s: %w", id, store.ErrClientNotFound)
	}

	system := 0
	if owner == fleet.SystemOwner {
		system = 1
	}
	for _, name := range names {
		err = sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO labels (client_id, name, owner, system) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{id.String(), name, owner, system}})
		if err != nil {
			return fmt.Errorf("relstore: insert label: %w", err)
		}
		err = sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO postings (keyword, client_id) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{keyword.ForLabel(name), id.String()}})
		if err != nil {
			return fmt.Errorf("relstore: insert label posting: %w", err)
		}
	}
	return nil
}

// RemoveLabels implements store.Store.
func (s *Store) RemoveLabels(ctx context.Context, id clientid.ID, names []string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relstore: remove labels: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("relstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	known, err := clientExists(conn, id)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("relstore: %s: %w", id, store.ErrClientNotFound)
	}

	for _, name := range names {
		err = sqlitex.Execute(conn,
			"DELETE FROM labels WHERE client_id = ? AND name = ? AND system = 0",
			&sqlitex.ExecOptions{Args: []any{id.String(), name}})
		if err != nil {
			return fmt.Errorf("relstore: delete label: %w", err)
		}

		// The posting stays alive while any label with this name
		// remains on the client, system labels included.
		var remaining bool
		err = sqlitex.Execute(conn,
			"SELECT 1 FROM labels WHERE client_id = ? AND name = ? LIMIT 1",
			&sqlitex.ExecOptions{
				Args: []any{id.String(), name},
				ResultFunc: func(*sqlite.Stmt) error {
					remaining = true
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("relstore: check remaining labels: %w", err)
		}
		if remaining {
			continue
		}
		err = sqlitex.Execute(conn,
			"DELETE FROM postings WHERE keyword = ? AND client_id = ?",
			&sqlitex.ExecOptions{Args: []any{keyword.ForLabel(name), id.String()}})
		if err != nil {
			return fmt.Errorf("relstore: delete label posting: %w", err)
		}
	}
	return nil
}

// Labels implements store.Store.
func (s *Store) Labels(ctx context.Context, id clientid.ID) ([]fleet.Label, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: labels: %w", err)
	}
	defer s.pool.Put(conn)
	return s.readLabels(conn, id)
}

func (s *Store) readLabels(conn *sqlite.Conn, id clientid.ID) ([]fleet.Label, error) {
	var labels []fleet.Label
	err := sqlitex.Execute(conn,
		"SELECT name, owner, system FROM labels WHERE client_id = ? ORDER BY name ASC, owner ASC",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				labels = append(labels, fleet.Label{
					Name:   stmt.ColumnText(0),
					Owner:  stmt.ColumnText(1),
					System: stmt.ColumnInt64(2) != 0,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relstore: read labels: %w", err)
	}
	return labels, nil
}

// AllLabelNames implements store.Store.
func (s *Store) AllLabelNames(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: all label names: %w", err)
	}
	defer s.pool.Put(conn)

	var names []string
	err = sqlitex.Execute(conn,
		"SELECT DISTINCT name FROM labels ORDER BY name ASC",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				names = append(names, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relstore: all label names: %w", err)
	}
	return names, nil
}

// LookupKeywords implements store.Store.
func (s *Store) LookupKeywords(ctx context.Context, keywords []string) ([]clientid.ID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: lookup keywords: %w", err)
	}
	defer s.pool.Put(conn)

	if len(keywords) == 0 {
		return allClientIDs(conn)
	}

	parts := make([]string, len(keywords))
	args := make([]any, len(keywords))
	for i, token := range keywords {
		parts[i] = "SELECT client_id FROM postings WHERE keyword = ?"
		args[i] = token
	}
	query := strings.Join(parts, " INTERSECT ") + " ORDER BY client_id ASC"

	var ids []clientid.ID
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id, err := clientid.Parse(stmt.ColumnText(0))
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("relstore: lookup keywords: %w", err)
	}
	return ids, nil
}

// WriteStats implements store.Store.
func (s *Store) WriteStats(ctx context.Context, stats *fleet.StatSnapshot) error {
	content, err := codec.Marshal(stats)
	if err != nil {
		return fmt.Errorf("relstore: encode stats: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relstore: write stats: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("relstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO stats (client_id, timestamp, content) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{stats.ClientID.String(), stats.Timestamp, content}})
	if err != nil {
		return fmt.Errorf("relstore: write stats: %w", err)
	}

	// A stats-only client is still a known client, matching the
	// legacy backend's bucket creation.
	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO metadata (client_id) VALUES (?)",
		&sqlitex.ExecOptions{Args: []any{stats.ClientID.String()}})
	if err != nil {
		return fmt.Errorf("relstore: register stats client: %w", err)
	}
	return nil
}

// StatHistory implements store.Store.
func (s *Store) StatHistory(ctx context.Context, id clientid.ID, start, end int64) ([]fleet.StatSnapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: stat history: %w", err)
	}
	defer s.pool.Put(conn)

	var snapshots []fleet.StatSnapshot
	err = sqlitex.Execute(conn,
		`SELECT content FROM stats
		WHERE client_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		&sqlitex.ExecOptions{
			Args: []any{id.String(), start, end},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var snapshot fleet.StatSnapshot
				if err := codec.Unmarshal(columnBlob(stmt, 0), &snapshot); err != nil {
					return err
				}
				snapshots = append(snapshots, snapshot)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relstore: stat history: %w", err)
	}
	return snapshots, nil
}

// WriteCrash implements store.Store.
func (s *Store) WriteCrash(ctx context.Context, crash *fleet.ClientCrash) error {
	content, err := codec.Marshal(crash)
	if err != nil {
		return fmt.Errorf("relstore: encode crash: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relstore: write crash: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("relstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		"INSERT INTO crashes (client_id, timestamp, content) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{crash.ClientID.String(), crash.Timestamp, content}})
	if err != nil {
		return fmt.Errorf("relstore: insert crash: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO metadata (client_id, last_crash_at) VALUES (?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			last_crash_at = MAX(COALESCE(last_crash_at, 0), excluded.last_crash_at)`,
		&sqlitex.ExecOptions{Args: []any{crash.ClientID.String(), crash.Timestamp}})
	if err != nil {
		return fmt.Errorf("relstore: update crash metadata: %w", err)
	}
	return nil
}

// Crashes implements store.Store.
func (s *Store) Crashes(ctx context.Context, id clientid.ID) ([]fleet.ClientCrash, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: crashes: %w", err)
	}
	defer s.pool.Put(conn)

	var crashes []fleet.ClientCrash
	err = sqlitex.Execute(conn,
		"SELECT content FROM crashes WHERE client_id = ? ORDER BY timestamp DESC",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var crash fleet.ClientCrash
				if err := codec.Unmarshal(columnBlob(stmt, 0), &crash); err != nil {
					return err
				}
				crashes = append(crashes, crash)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relstore: crashes: %w", err)
	}
	return crashes, nil
}

// WriteActionRequest implements store.Store.
func (s *Store) WriteActionRequest(ctx context.Context, id clientid.ID, request fleet.ActionRequest) error {
	content, err := codec.Marshal(&request)
	if err != nil {
		return fmt.Errorf("relstore: encode action request: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("relstore: write action request: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO action_requests (client_id, task_id, content) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{id.String(), int64(request.TaskID), content}})
	if err != nil {
		return fmt.Errorf("relstore: write action request: %w", err)
	}
	return nil
}

// ActionRequests implements store.Store.
func (s *Store) ActionRequests(ctx context.Context, id clientid.ID) ([]fleet.ActionRequest, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("relstore: action requests: %w", err)
	}
	defer s.pool.Put(conn)

	var requests []fleet.ActionRequest
	err = sqlitex.Execute(conn,
		"SELECT content FROM action_requests WHERE client_id = ? ORDER BY task_id ASC",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var request fleet.ActionRequest
				if err := codec.Unmarshal(columnBlob(stmt, 0), &request); err != nil {
					return err
				}
				requests = append(requests, request)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("relstore: action requests: %w", err)
	}
	return requests, nil
}

func clientExists(conn *sqlite.Conn, id clientid.ID) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn,
		`SELECT 1 FROM snapshots WHERE client_id = ?
		UNION SELECT 1 FROM metadata WHERE client_id = ? LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{id.String(), id.String()},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("relstore: check client: %w", err)
	}
	return exists, nil
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

func columnNullableInt(stmt *sqlite.Stmt, col int) *int64 {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	value := stmt.ColumnInt64(col)
	return &value
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
