// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Archive key prefixes and suffixes.
const (
	keyPrefixSession      = "session:"
	keyPrefixSessionIndex = "session:index:"
	keySuffixData         = ":data"
	keySuffixMeta         = ":meta"
)

var (
	// ErrSessionNotFound indicates an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrArchiveConfig indicates an archive opened without a path.
	ErrArchiveConfig = errors.New("archive path is required unless in memory")
)

// SessionMeta summarizes an archived session for listing.
type SessionMeta struct {
	ID           string    `json:"id"`
	ProjectRoot  string    `json:"project_root"`
	ProjectHash  string    `json:"project_hash"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Rounds       int       `json:"rounds"`
	Outcome      string    `json:"outcome"`
	Locations    int       `json:"locations"`
}

// SessionRecord is a complete archived session.
//
// The audit payloads are kept as raw JSON so the archive does not depend on
// the manager's types.
type SessionRecord struct {
	SessionMeta
	Issue          string          `json:"issue"`
	ToolCallLayers json.RawMessage `json:"tool_call_layers"`
	BugLocations   json.RawMessage `json:"bug_locations"`
	Transcript     json.RawMessage `json:"transcript"`
}

// ArchiveConfig configures OpenArchive.
type ArchiveConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the archive in memory only.
	InMemory bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Archive keeps search sessions in BadgerDB.
//
// Key Schema:
//
//	session:{projectHash}:{id}:meta → JSON(SessionMeta)
//	session:{projectHash}:{id}:data → gzip(JSON(SessionRecord))
//	session:index:{id}              → projectHash
//
// Thread Safety: Safe for concurrent use. BadgerDB handles its own
// concurrency control.
type Archive struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenArchive opens or creates an archive.
//
// Outputs:
//   - *Archive: The opened archive. Caller must call Close.
//   - error: ErrArchiveConfig, or a BadgerDB open failure.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrArchiveConfig
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger archive: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: db, logger: logger}, nil
}

// Close releases the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save stores rec, assigning a new ID when rec.ID is empty.
//
// Outputs:
//   - SessionMeta: The stored metadata, including the ID.
//   - error: Non-nil on encode or write failure.
func (a *Archive) Save(ctx context.Context, rec SessionRecord) (SessionMeta, error) {
	if err := ctx.Err(); err != nil {
		return SessionMeta{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.ProjectHash = ProjectHash(rec.ProjectRoot)

	data, err := json.Marshal(rec)
	if err != nil {
		return SessionMeta{}, fmt.Errorf("marshaling session: %w", err)
	}
	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(data); err != nil {
		return SessionMeta{}, fmt.Errorf("compressing session: %w", err)
	}
	if err := gw.Close(); err != nil {
		return SessionMeta{}, fmt.Errorf("closing gzip writer: %w", err)
	}

	metaJSON, err := json.Marshal(rec.SessionMeta)
	if err != nil {
		return SessionMeta{}, fmt.Errorf("marshaling metadata: %w", err)
	}

	base := keyPrefixSession + rec.ProjectHash + ":" + rec.ID
	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(base+keySuffixData), compressed.Bytes()); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(base+keySuffixMeta), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSessionIndex+rec.ID), []byte(rec.ProjectHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return SessionMeta{}, fmt.Errorf("writing session to badger: %w", err)
	}

	a.logger.Info("session archived",
		slog.String("session_id", rec.ID),
		slog.String("project_root", rec.ProjectRoot),
		slog.Int("compressed_size", compressed.Len()),
	)
	return rec.SessionMeta, nil
}

// Load returns the session with the given ID.
//
// Outputs:
//   - SessionRecord: The stored record.
//   - error: ErrSessionNotFound for an unknown ID.
func (a *Archive) Load(ctx context.Context, id string) (SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return SessionRecord{}, err
	}
	var rec SessionRecord
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixSessionIndex + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return err
		}
		projectHash, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get([]byte(keyPrefixSession + string(projectHash) + ":" + id + keySuffixData))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			gr, err := gzip.NewReader(bytes.NewReader(val))
			if err != nil {
				return fmt.Errorf("opening gzip reader: %w", err)
			}
			defer gr.Close()
			raw, err := io.ReadAll(gr)
			if err != nil {
				return fmt.Errorf("decompressing session: %w", err)
			}
			return json.Unmarshal(raw, &rec)
		})
	})
	if err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// List returns session metadata newest first. An empty projectRoot lists
// every project; limit <= 0 means no limit.
func (a *Archive) List(ctx context.Context, projectRoot string, limit int) ([]SessionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := keyPrefixSession
	if projectRoot != "" {
		prefix = keyPrefixSession + ProjectHash(projectRoot) + ":"
	}

	var out []SessionMeta
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.HasPrefix(key, keyPrefixSessionIndex) || !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta SessionMeta
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				a.logger.Warn("skipping unreadable session metadata",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ProjectHash returns the first 16 hex characters of SHA256(projectRoot).
func ProjectHash(projectRoot string) string {
	h := sha256.Sum256([]byte(projectRoot))
	return hex.EncodeToString(h[:])[:16]
}
