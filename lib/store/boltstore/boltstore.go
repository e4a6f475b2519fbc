// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package boltstore implements the legacy hierarchical storage
// backend on bbolt. Each client owns a nested bucket tree (snapshots,
// metadata, labels, stats, crashes, queued actions) and a global
// index bucket maps keywords to posting sub-buckets. Snapshot and
// stat blobs are zstd-compressed CBOR; small records are stored raw.
//
// The layout mirrors the hierarchical store this service migrated
// away from, so records written by the old fleet can still be read
// during the dual-backend era.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/codec"
	"github.com/thehotelbravo/warden/lib/keyword"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/store"
)

// Bucket layout. clientsBucket holds one sub-bucket per client ID;
// indexBucket holds one sub-bucket per keyword whose keys are the
// posted client IDs.
var (
	clientsBucket = []byte("clients")
	indexBucket   = []byte("index")

	snapshotsBucket = []byte("snapshots")
	labelsBucket    = []byte("labels")
	statsBucket     = []byte("stats")
	crashesBucket   = []byte("crashes")
	actionsBucket   = []byte("actions")

	metadataKey = []byte("metadata")
)

// labelKeySeparator joins name and owner in a label bucket key. NUL
// cannot appear in either field, so name prefixes scan cleanly.
const labelKeySeparator = "\x00"

// Store is the bbolt-backed implementation of store.Store.
type Store struct {
	db         *bolt.DB
	logger     *slog.Logger
	compressor *zstd.Encoder
	expander   *zstd.Decoder
}

var _ store.Store = (*Store)(nil)

// Config holds the parameters for opening a legacy store.
type Config struct {
	// Path is the filesystem path to the bbolt database file. The
	// parent directory must exist.
	Path string

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Open creates or opens the database and the top-level buckets.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("boltstore: Path is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("boltstore: Logger is required")
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", cfg.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{clientsBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: initialize buckets: %w", err)
	}

	compressor, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: zstd encoder: %w", err)
	}
	expander, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: zstd decoder: %w", err)
	}

	return &Store{db: db, logger: cfg.Logger, compressor: compressor, expander: expander}, nil
}

// Backend implements store.Store.
func (s *Store) Backend() string { return "legacy" }

// Close closes the database file.
func (s *Store) Close() error {
	s.compressor.Close()
	s.expander.Close()
	return s.db.Close()
}

// WriteSnapshot implements store.Store.
func (s *Store) WriteSnapshot(ctx context.Context, snapshot *fleet.ClientSnapshot) error {
	raw, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("boltstore: encode snapshot: %w", err)
	}
	content := s.compressor.EncodeAll(raw, nil)

	err = s.db.Update(func(tx *bolt.Tx) error {
		client, err := ensureClientBucket(tx, snapshot.ClientID.String())
		if err != nil {
			return err
		}
		snapshots, err := client.CreateBucketIfNotExists(snapshotsBucket)
		if err != nil {
			return err
		}
		if err := snapshots.Put(timestampKey(snapshot.Timestamp), content); err != nil {
			return err
		}

		metadata, err := readMetadataRecord(client)
		if err != nil {
			return err
		}
		if metadata.FirstSeenAt == nil {
			first := snapshot.Timestamp
			metadata.FirstSeenAt = &first
		}
		if metadata.LastSeenAt == nil || *metadata.LastSeenAt < snapshot.Timestamp {
			last := snapshot.Timestamp
			metadata.LastSeenAt = &last
		}
		if err := writeMetadataRecord(client, metadata); err != nil {
			return err
		}

		index := tx.Bucket(indexBucket)
		for _, token := range keyword.FromSnapshot(snapshot) {
			posting, err := index.CreateBucketIfNotExists([]byte(token))
			if err != nil {
				return err
			}
			if err := posting.Put([]byte(snapshot.ClientID.String()), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: write snapshot: %w", err)
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

func (s *Store) clientInfoAt(ctx context.Context, id clientid.ID, asOf int64) (fleet.ClientInfo, error) {
	var (
		info  fleet.ClientInfo
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		info, found, err = s.readClientInfo(tx, id, asOf)
		return err
	})
	if err != nil {
		return fleet.ClientInfo{}, fmt.Errorf("boltstore: client info: %w", err)
	}
	if !found {
		return fleet.ClientInfo{}, fmt.Errorf("boltstore: %s: %w", id, store.ErrClientNotFound)
	}
	return info, nil
}

// readClientInfo assembles one client inside an open transaction.
// asOf < 0 means latest snapshot.
func (s *Store) readClientInfo(tx *bolt.Tx, id clientid.ID, asOf int64) (fleet.ClientInfo, bool, error) {
	client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
	if client == nil {
		return fleet.ClientInfo{}, false, nil
	}
	info := fleet.ClientInfo{ClientID: id}

	if snapshots := client.Bucket(snapshotsBucket); snapshots != nil {
		cursor := snapshots.Cursor()
		var key, value []byte
		if asOf < 0 {
			key, value = cursor.Last()
		} else {
			// Seek lands on the first key >= asOf; step back when it
			// overshoots or runs off the end.
			key, value = cursor.Seek(timestampKey(asOf))
			switch {
			case key == nil:
				key, value = cursor.Last()
			case keyTimestamp(key) > asOf:
				key, value = cursor.Prev()
			}
		}
		if key != nil {
			snapshot, err := s.decodeSnapshot(value)
			if err != nil {
				return fleet.ClientInfo{}, false, err
			}
			info.Snapshot = snapshot
		}
	}

	metadata, err := readMetadataRecord(client)
	if err != nil {
		return fleet.ClientInfo{}, false, err
	}
	info.Metadata = metadata

	labels, err := readLabelRecords(client)
	if err != nil {
		return fleet.ClientInfo{}, false, err
	}
	info.Labels = labels
	return info, true, nil
}

// MultiClientInfo implements store.Store.
func (s *Store) MultiClientInfo(ctx context.Context, ids []clientid.ID) (map[clientid.ID]fleet.ClientInfo, error) {
	result := make(map[clientid.ID]fleet.ClientInfo, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, id := range ids {
			info, found, err := s.readClientInfo(tx, id, -1)
			if err != nil {
				return err
			}
			if found {
				result[id] = info
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: multi client info: %w", err)
	}
	return result, nil
}

// SnapshotHistory implements store.Store.
func (s *Store) SnapshotHistory(ctx context.Context, id clientid.ID, start, end int64) ([]fleet.ClientSnapshot, error) {
	var snapshots []fleet.ClientSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return nil
		}
		bucket := client.Bucket(snapshotsBucket)
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for key, value := cursor.Seek(timestampKey(start)); key != nil; key, value = cursor.Next() {
			if keyTimestamp(key) > end {
				break
			}
			snapshot, err := s.decodeSnapshot(value)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, *snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: snapshot history: %w", err)
	}
	// Cursor order is ascending; callers get newest first.
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// AllClientIDs implements store.Store.
func (s *Store) AllClientIDs(ctx context.Context) ([]clientid.ID, error) {
	var ids []clientid.ID
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(clientsBucket).ForEachBucket(func(key []byte) error {
			id, err := clientid.Parse(string(key))
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: all client ids: %w", err)
	}
	// bbolt iterates keys in byte order, which is already ascending
	// for fixed-width hex IDs.
	return ids, nil
}

// Metadata implements store.Store.
func (s *Store) Metadata(ctx context.Context, id clientid.ID) (fleet.ClientMetadata, error) {
	var (
		metadata fleet.ClientMetadata
		found    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return nil
		}
		found = true
		var err error
		metadata, err = readMetadataRecord(client)
		return err
	})
	if err != nil {
		return fleet.ClientMetadata{}, fmt.Errorf("boltstore: metadata: %w", err)
	}
	if !found {
		return fleet.ClientMetadata{}, fmt.Errorf("boltstore: %s: %w", id, store.ErrClientNotFound)
	}
	return metadata, nil
}

// SetMetadata implements store.Store.
func (s *Store) SetMetadata(ctx context.Context, id clientid.ID, metadata fleet.ClientMetadata) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		client, err := ensureClientBucket(tx, id.String())
		if err != nil {
			return err
		}
		return writeMetadataRecord(client, metadata)
	})
	if err != nil {
		return fmt.Errorf("boltstore: set metadata: %w", err)
	}
	return nil
}

// AddLabels implements store.Store.
func (s *Store) AddLabels(ctx context.Context, id clientid.ID, owner string, names []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return store.ErrClientNotFound
		}
		labels, err := client.CreateBucketIfNotExists(labelsBucket)
		if err != nil {
			return err
		}
		index := tx.Bucket(indexBucket)
		for _, name := range names {
			record := fleet.Label{
				Name:   name,
				Owner:  owner,
				System: owner == fleet.SystemOwner,
			}
			content, err := codec.Marshal(&record)
			if err != nil {
				return err
			}
			if err := labels.Put(labelKey(name, owner), content); err != nil {
				return err
			}
			posting, err := index.CreateBucketIfNotExists([]byte(keyword.ForLabel(name)))
			if err != nil {
				return err
			}
			if err := posting.Put([]byte(id.String()), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: add labels %s: %w", id, err)
	}
	return nil
}

// RemoveLabels implements store.Store.
func (s *Store) RemoveLabels(ctx context.Context, id clientid.ID, names []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return store.ErrClientNotFound
		}
		labels := client.Bucket(labelsBucket)
		if labels == nil {
			return nil
		}
		index := tx.Bucket(indexBucket)

		for _, name := range names {
			prefix := []byte(name + labelKeySeparator)
			cursor := labels.Cursor()

			var remove [][]byte
			remaining := false
			for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
				var record fleet.Label
				if err := codec.Unmarshal(value, &record); err != nil {
					return err
				}
				if record.System {
					remaining = true
					continue
				}
				remove = append(remove, append([]byte(nil), key...))
			}
			for _, key := range remove {
				if err := labels.Delete(key); err != nil {
					return err
				}
			}
			if remaining {
				continue
			}
			if posting := index.Bucket([]byte(keyword.ForLabel(name))); posting != nil {
				if err := posting.Delete([]byte(id.String())); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: remove labels %s: %w", id, err)
	}
	return nil
}

// Labels implements store.Store.
func (s *Store) Labels(ctx context.Context, id clientid.ID) ([]fleet.Label, error) {
	var labels []fleet.Label
	err := s.db.View(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return nil
		}
		var err error
		labels, err = readLabelRecords(client)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: labels: %w", err)
	}
	return labels, nil
}

// AllLabelNames implements store.Store.
func (s *Store) AllLabelNames(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(clientsBucket).ForEachBucket(func(clientKey []byte) error {
			client := tx.Bucket(clientsBucket).Bucket(clientKey)
			labels := client.Bucket(labelsBucket)
			if labels == nil {
				return nil
			}
			return labels.ForEach(func(key, value []byte) error {
				var record fleet.Label
				if err := codec.Unmarshal(value, &record); err != nil {
					return err
				}
				seen[record.Name] = struct{}{}
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: all label names: %w", err)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LookupKeywords implements store.Store.
func (s *Store) LookupKeywords(ctx context.Context, keywords []string) ([]clientid.ID, error) {
	if len(keywords) == 0 {
		return s.AllClientIDs(ctx)
	}

	var ids []clientid.ID
	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(indexBucket)

		// Intersect posting sets in Go; postings are small relative
		// to the fleet and any empty set short-circuits.
		var matched map[string]struct{}
		for _, token := range keywords {
			posting := index.Bucket([]byte(token))
			if posting == nil {
				matched = nil
				return nil
			}
			current := make(map[string]struct{})
			err := posting.ForEach(func(key, _ []byte) error {
				raw := string(key)
				if matched == nil {
					current[raw] = struct{}{}
					return nil
				}
				if _, ok := matched[raw]; ok {
					current[raw] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return err
			}
			matched = current
			if len(matched) == 0 {
				return nil
			}
		}

		for raw := range matched {
			id, err := clientid.Parse(raw)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: lookup keywords: %w", err)
	}
	clientid.Sort(ids)
	return ids, nil
}

// WriteStats implements store.Store.
func (s *Store) WriteStats(ctx context.Context, stats *fleet.StatSnapshot) error {
	raw, err := codec.Marshal(stats)
	if err != nil {
		return fmt.Errorf("boltstore: encode stats: %w", err)
	}
	content := s.compressor.EncodeAll(raw, nil)

	err = s.db.Update(func(tx *bolt.Tx) error {
		client, err := ensureClientBucket(tx, stats.ClientID.String())
		if err != nil {
			return err
		}
		bucket, err := client.CreateBucketIfNotExists(statsBucket)
		if err != nil {
			return err
		}
		return bucket.Put(timestampKey(stats.Timestamp), content)
	})
	if err != nil {
		return fmt.Errorf("boltstore: write stats: %w", err)
	}
	return nil
}

// StatHistory implements store.Store.
func (s *Store) StatHistory(ctx context.Context, id clientid.ID, start, end int64) ([]fleet.StatSnapshot, error) {
	var snapshots []fleet.StatSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return nil
		}
		bucket := client.Bucket(statsBucket)
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for key, value := cursor.Seek(timestampKey(start)); key != nil; key, value = cursor.Next() {
			if keyTimestamp(key) > end {
				break
			}
			raw, err := s.expander.DecodeAll(value, nil)
			if err != nil {
				return err
			}
			var snapshot fleet.StatSnapshot
			if err := codec.Unmarshal(raw, &snapshot); err != nil {
				return err
			}
			snapshots = append(snapshots, snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: stat history: %w", err)
	}
	return snapshots, nil
}

// WriteCrash implements store.Store.
func (s *Store) WriteCrash(ctx context.Context, crash *fleet.ClientCrash) error {
	content, err := codec.Marshal(crash)
	if err != nil {
		return fmt.Errorf("boltstore: encode crash: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		client, err := ensureClientBucket(tx, crash.ClientID.String())
		if err != nil {
			return err
		}
		bucket, err := client.CreateBucketIfNotExists(crashesBucket)
		if err != nil {
			return err
		}
		if err := bucket.Put(timestampKey(crash.Timestamp), content); err != nil {
			return err
		}

		metadata, err := readMetadataRecord(client)
		if err != nil {
			return err
		}
		if metadata.LastCrashAt == nil || *metadata.LastCrashAt < crash.Timestamp {
			at := crash.Timestamp
			metadata.LastCrashAt = &at
		}
		return writeMetadataRecord(client, metadata)
	})
	if err != nil {
		return fmt.Errorf("boltstore: write crash: %w", err)
	}
	return nil
}

// Crashes implements store.Store.
func (s *Store) Crashes(ctx context.Context, id clientid.ID) ([]fleet.ClientCrash, error) {
	var crashes []fleet.ClientCrash
	err := s.db.View(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return nil
		}
		bucket := client.Bucket(crashesBucket)
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			var crash fleet.ClientCrash
			if err := codec.Unmarshal(value, &crash); err != nil {
				return err
			}
			crashes = append(crashes, crash)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: crashes: %w", err)
	}
	return crashes, nil
}

// WriteActionRequest implements store.Store.
func (s *Store) WriteActionRequest(ctx context.Context, id clientid.ID, request fleet.ActionRequest) error {
	content, err := codec.Marshal(&request)
	if err != nil {
		return fmt.Errorf("boltstore: encode action request: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		client, err := ensureClientBucket(tx, id.String())
		if err != nil {
			return err
		}
		bucket, err := client.CreateBucketIfNotExists(actionsBucket)
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], request.TaskID)
		return bucket.Put(key[:], content)
	})
	if err != nil {
		return fmt.Errorf("boltstore: write action request: %w", err)
	}
	return nil
}

// ActionRequests implements store.Store.
func (s *Store) ActionRequests(ctx context.Context, id clientid.ID) ([]fleet.ActionRequest, error) {
	var requests []fleet.ActionRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		client := tx.Bucket(clientsBucket).Bucket([]byte(id.String()))
		if client == nil {
			return nil
		}
		bucket := client.Bucket(actionsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			var request fleet.ActionRequest
			if err := codec.Unmarshal(value, &request); err != nil {
				return err
			}
			requests = append(requests, request)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: action requests: %w", err)
	}
	return requests, nil
}

func (s *Store) decodeSnapshot(content []byte) (*fleet.ClientSnapshot, error) {
	raw, err := s.expander.DecodeAll(content, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: decompress snapshot: %w", err)
	}
	var snapshot fleet.ClientSnapshot
	if err := codec.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("boltstore: decode snapshot: %w", err)
	}
	return &snapshot, nil
}

func ensureClientBucket(tx *bolt.Tx, id string) (*bolt.Bucket, error) {
	return tx.Bucket(clientsBucket).CreateBucketIfNotExists([]byte(id))
}

func readMetadataRecord(client *bolt.Bucket) (fleet.ClientMetadata, error) {
	content := client.Get(metadataKey)
	if content == nil {
		return fleet.ClientMetadata{}, nil
	}
	var metadata fleet.ClientMetadata
	if err := codec.Unmarshal(content, &metadata); err != nil {
		return fleet.ClientMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

func writeMetadataRecord(client *bolt.Bucket, metadata fleet.ClientMetadata) error {
	content, err := codec.Marshal(&metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return client.Put(metadataKey, content)
}

func readLabelRecords(client *bolt.Bucket) ([]fleet.Label, error) {
	bucket := client.Bucket(labelsBucket)
	if bucket == nil {
		return nil, nil
	}
	var labels []fleet.Label
	err := bucket.ForEach(func(_, value []byte) error {
		var record fleet.Label
		if err := codec.Unmarshal(value, &record); err != nil {
			return err
		}
		labels = append(labels, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

func labelKey(name, owner string) []byte {
	return []byte(name + labelKeySeparator + owner)
}

func timestampKey(timestamp int64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(timestamp))
	return key[:]
}

func keyTimestamp(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}
