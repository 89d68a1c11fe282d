// Package store keeps downloaded updates, their assets and the last state machine
// snapshot in a bbolt database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/DIMO-Network/updates-client/pkg/updates"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

var (
	bucketUpdates = []byte("updates")
	bucketAssets  = []byte("assets")
	bucketMeta    = []byte("meta")

	keyLaunched = []byte("launched")
	keyPending  = []byte("pending")
	keySnapshot = []byte("snapshot")
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// UpdateRecord is a stored manifest.
type UpdateRecord struct {
	ID       string          `cbor:"id"`
	Manifest json.RawMessage `cbor:"manifest"`
	StoredAt time.Time       `cbor:"storedAt"`
}

type snapshotRecord struct {
	EventType string    `cbor:"type"`
	Context   []byte    `cbor:"context"`
	SavedAt   time.Time `cbor:"savedAt"`
}

// Store is a bbolt backed updates.Database. It also persists every state machine
// snapshot it is notified of.
type Store struct {
	db     *bbolt.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open opens or creates the database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUpdates, bucketAssets, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction implements updates.Database.
func (s *Store) Transaction(ctx context.Context, fn func(tx updates.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&tx{btx: btx, now: s.now})
	})
}

// Update returns the stored manifest with the given id.
func (s *Store) Update(ctx context.Context, id string) (*UpdateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record UpdateRecord
	err := s.db.View(func(btx *bbolt.Tx) error {
		data := btx.Bucket(bucketUpdates).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("update %s: %w", id, ErrNotFound)
		}
		return cbor.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateIDs returns the launched and pending update ids.
func (s *Store) UpdateIDs(ctx context.Context) (launched, pending string, err error) {
	err = s.Transaction(ctx, func(tx updates.Tx) error {
		if launched, err = tx.LaunchedUpdateID(); err != nil {
			return err
		}
		pending, err = tx.PendingUpdateID()
		return err
	})
	return launched, pending, err
}

// Notify implements statemachine.EventSink by saving the snapshot.
func (s *Store) Notify(eventType statemachine.EventType, snapshot statemachine.Context) {
	if err := s.saveSnapshot(eventType, snapshot); err != nil {
		s.logger.Error().Err(err).Str("event", string(eventType)).Msg("Failed to persist state snapshot.")
	}
}

func (s *Store) saveSnapshot(eventType statemachine.EventType, snapshot statemachine.Context) error {
	contextJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	data, err := encMode.Marshal(snapshotRecord{EventType: string(eventType), Context: contextJSON, SavedAt: s.now()})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketMeta).Put(keySnapshot, data)
	})
}

// LoadSnapshot returns the last persisted snapshot and when it was saved.
func (s *Store) LoadSnapshot() (statemachine.Snapshot, time.Time, error) {
	var record snapshotRecord
	err := s.db.View(func(btx *bbolt.Tx) error {
		data := btx.Bucket(bucketMeta).Get(keySnapshot)
		if data == nil {
			return fmt.Errorf("snapshot: %w", ErrNotFound)
		}
		return cbor.Unmarshal(data, &record)
	})
	if err != nil {
		return statemachine.Snapshot{}, time.Time{}, err
	}
	snapshot := statemachine.Snapshot{EventType: statemachine.EventType(record.EventType)}
	if err := json.Unmarshal(record.Context, &snapshot.Context); err != nil {
		return statemachine.Snapshot{}, time.Time{}, fmt.Errorf("unmarshal context: %w", err)
	}
	return snapshot, record.SavedAt, nil
}

type tx struct {
	btx *bbolt.Tx
	now func() time.Time
}

func (t *tx) LaunchedUpdateID() (string, error) {
	return string(t.btx.Bucket(bucketMeta).Get(keyLaunched)), nil
}

func (t *tx) SetLaunchedUpdateID(id string) error {
	return t.setMeta(keyLaunched, id)
}

func (t *tx) PendingUpdateID() (string, error) {
	return string(t.btx.Bucket(bucketMeta).Get(keyPending)), nil
}

func (t *tx) SetPendingUpdateID(id string) error {
	return t.setMeta(keyPending, id)
}

// setMeta deletes the key for an empty value.
func (t *tx) setMeta(key []byte, value string) error {
	meta := t.btx.Bucket(bucketMeta)
	if value == "" {
		return meta.Delete(key)
	}
	return meta.Put(key, []byte(value))
}

func (t *tx) PutUpdate(id string, manifest json.RawMessage) error {
	data, err := encMode.Marshal(UpdateRecord{ID: id, Manifest: manifest, StoredAt: t.now()})
	if err != nil {
		return fmt.Errorf("marshal update %s: %w", id, err)
	}
	return t.btx.Bucket(bucketUpdates).Put([]byte(id), data)
}

func (t *tx) HasAsset(key string) (bool, error) {
	return t.btx.Bucket(bucketAssets).Get([]byte(key)) != nil, nil
}

func (t *tx) PutAsset(key string, data []byte) error {
	return t.btx.Bucket(bucketAssets).Put([]byte(key), data)
}
