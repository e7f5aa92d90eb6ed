package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	dbconfig "directchat/pkg/database"
	"directchat/pkg/types"
)

// InMemoryPath opens the Badger store without touching disk
const InMemoryPath = ":memory:"

var (
	clockKey    = []byte("meta:last_created_at")
	sequenceKey = []byte("meta:seq")
)

// BadgerStore is the BadgerDB implementation of interfaces.MessageStore.
//
// Every message is written three times in one transaction:
//
//	pair:{len}:{low}:{len}:{high}:{createdAt:019}:{seq:020}  history lookups
//	user:{len}:{sender}:{createdAt:019}:{seq:020}            sender index
//	user:{len}:{receiver}:{createdAt:019}:{seq:020}          receiver index
//
// Zero padding keeps lexicographic key order equal to (createdAt, seq) order.
// Length prefixes keep one identifier's keys from matching another's prefix.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	config *dbconfig.Config
	log    *slog.Logger

	mu            sync.Mutex // serializes appends
	lastCreatedAt time.Time
	closed        bool
}

type badgerRecord struct {
	ID           string `json:"id"`
	Sender       string `json:"sender"`
	Receiver     string `json:"receiver"`
	ReceiverName string `json:"receiver_name"`
	Body         string `json:"body"`
	CreatedAt    int64  `json:"created_at"`
	Seq          int64  `json:"seq"`
}

// NewBadgerStore opens (or creates) a Badger directory at config.Path
func NewBadgerStore(config *dbconfig.Config, log *slog.Logger) (*BadgerStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	opts := badger.DefaultOptions(config.Path).WithLoggingLevel(badger.ERROR)
	if config.Path == InMemoryPath {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease message sequence: %w", err)
	}

	store := &BadgerStore{
		db:     db,
		seq:    seq,
		config: config,
		log:    log.With("component", "badger_store"),
	}

	if err := store.loadClock(); err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Append validates and persists a message
func (s *BadgerStore) Append(ctx context.Context, sender, receiver, receiverName, body string) (*types.Message, error) {
	if err := validateAppend(sender, receiver, body); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceUnavailable, ErrManagerClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceUnavailable, err)
	}

	next, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to allocate sequence: %w", types.ErrPersistenceUnavailable, err)
	}

	createdAt := time.Now().UTC()
	if createdAt.Before(s.lastCreatedAt) {
		createdAt = s.lastCreatedAt
	}

	record := badgerRecord{
		ID:           uuid.New().String(),
		Sender:       sender,
		Receiver:     receiver,
		ReceiverName: receiverName,
		Body:         body,
		CreatedAt:    createdAt.UnixNano(),
		Seq:          int64(next) + 1,
	}

	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	suffix := fmt.Sprintf("%019d:%020d", record.CreatedAt, record.Seq)
	write := func(txn *badger.Txn) error {
		for _, key := range []string{
			pairPrefix(sender, receiver) + suffix,
			userPrefix(sender) + suffix,
			userPrefix(receiver) + suffix,
		} {
			if err := txn.Set([]byte(key), value); err != nil {
				return err
			}
		}
		return txn.Set(clockKey, []byte(strconv.FormatInt(record.CreatedAt, 10)))
	}

	err = s.db.Update(write)
	for attempt := 1; err != nil && attempt <= s.config.WriteRetries; attempt++ {
		s.log.Warn("badger write failed, retrying", "attempt", attempt, "delay", s.config.RetryDelay, "error", err)
		time.Sleep(s.config.RetryDelay)
		err = s.db.Update(write)
	}
	if err != nil {
		s.log.Error("badger write failed", "error", err)
		return nil, fmt.Errorf("%w: failed to write message: %w", types.ErrPersistenceUnavailable, err)
	}

	s.lastCreatedAt = createdAt
	return record.toMessage(), nil
}

// History retrieves the conversation between two participants, oldest first
func (s *BadgerStore) History(ctx context.Context, userA, userB string) ([]*types.Message, error) {
	return s.scan(ctx, pairPrefix(userA, userB), false)
}

// ScanInvolving retrieves every message sent or received by user, newest first
func (s *BadgerStore) ScanInvolving(ctx context.Context, user string) ([]*types.Message, error) {
	return s.scan(ctx, userPrefix(user), true)
}

// HealthCheck verifies the database is open and readable
func (s *BadgerStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrManagerClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(clockKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Close releases the sequence lease and closes the database
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.seq.Release(); err != nil {
		s.log.Warn("failed to release message sequence", "error", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	return nil
}

func (s *BadgerStore) scan(ctx context.Context, prefix string, reverse bool) ([]*types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceUnavailable, err)
	}

	messages := make([]*types.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = reverse

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := []byte(prefix)
		if reverse {
			// '~' sorts after every digit, so the seek lands past the newest key
			seekKey = append(seekKey, '~')
		}

		for it.Seek(seekKey); it.ValidForPrefix([]byte(prefix)); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var record badgerRecord
				if err := json.Unmarshal(v, &record); err != nil {
					return fmt.Errorf("failed to decode message: %w", err)
				}
				messages = append(messages, record.toMessage())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan messages: %w", types.ErrPersistenceUnavailable, err)
	}

	return messages, nil
}

// loadClock restores lastCreatedAt so createdAt stays monotonic across restarts
func (s *BadgerStore) loadClock() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(clockKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read message clock: %w", err)
		}
		return item.Value(func(v []byte) error {
			nanos, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt message clock %q: %w", v, err)
			}
			s.lastCreatedAt = time.Unix(0, nanos).UTC()
			return nil
		})
	})
}

func (r badgerRecord) toMessage() *types.Message {
	return &types.Message{
		ID:           r.ID,
		Sender:       r.Sender,
		Receiver:     r.Receiver,
		ReceiverName: r.ReceiverName,
		Body:         r.Body,
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
		Seq:          r.Seq,
	}
}

func pairPrefix(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%d:%s:%d:%s:", len(a), a, len(b), b)
}

func userPrefix(user string) string {
	return fmt.Sprintf("user:%d:%s:", len(user), user)
}
