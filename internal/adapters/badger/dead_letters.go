package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

const deadLetterPrefix = "dlq/"

type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	InMemory bool

	// SyncWrites trades throughput for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens a Badger database. An empty Path implies in-memory mode.
func Open(cfg Config) (*badger.DB, error) {
	if cfg.Path == "" {
		cfg.InMemory = true
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// DeadLetterStore keeps dead letters until they expire, using Badger's
// per-entry TTL.
type DeadLetterStore struct {
	db     *badger.DB
	logger *slog.Logger
}

func NewDeadLetterStore(db *badger.DB, logger *slog.Logger) *DeadLetterStore {
	return &DeadLetterStore{db: db, logger: logger}
}

func key(id domain.MessageID) []byte {
	return []byte(deadLetterPrefix + string(id))
}

// record keeps the body as opaque bytes so it is stored exactly as published.
// Encoding it as a json.RawMessage would compact and HTML-escape it.
type record struct {
	DeadLetter domain.DeadLetter `json:"dead_letter"`
	Body       []byte            `json:"body"`
}

func encode(dl domain.DeadLetter) ([]byte, error) {
	rec := record{DeadLetter: dl, Body: dl.Envelope.Body}
	rec.DeadLetter.Envelope.Body = nil
	return json.Marshal(rec)
}

func decode(val []byte) (domain.DeadLetter, error) {
	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return domain.DeadLetter{}, err
	}
	dl := rec.DeadLetter
	dl.Envelope.Body = json.RawMessage(rec.Body)
	return dl, nil
}

func (s *DeadLetterStore) Put(ctx context.Context, dl domain.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ttl := time.Until(dl.ExpiresAt)
	if ttl <= 0 {
		s.logger.Debug("dead letter already expired, not stored", "message_id", dl.Envelope.ID)
		return nil
	}
	data, err := encode(dl)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key(dl.Envelope.ID), data).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id domain.MessageID) (domain.DeadLetter, error) {
	var dl domain.DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			dl, err = decode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.DeadLetter{}, domain.ErrDeadLetterNotFound
	}
	if err != nil {
		return domain.DeadLetter{}, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return dl, nil
}

// List returns unexpired dead letters, oldest first.
func (s *DeadLetterStore) List(ctx context.Context) ([]domain.DeadLetter, error) {
	var out []domain.DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(deadLetterPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var dl domain.DeadLetter
			if err := it.Item().Value(func(val []byte) error {
				var err error
				dl, err = decode(val)
				return err
			}); err != nil {
				return err
			}
			out = append(out, dl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadLetterAt.Before(out[j].DeadLetterAt) })
	return out, nil
}

func (s *DeadLetterStore) Delete(ctx context.Context, id domain.MessageID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			return err
		}
		return txn.Delete(key(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrDeadLetterNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}
