package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta        = []byte("meta")
	bucketSubmissions = []byte("submissions")
	bucketOrder       = []byte("submission_order")

	keyCounter = []byte("counter")
)

type counterRecord struct {
	LastID uint64 `json:"last_id"`
}

// Bolt persists the counter and submissions in a BoltDB file.
type Bolt struct {
	*PendingTable

	db *bolt.DB
}

// OpenBolt opens (or creates) the database at path. A file bbolt rejects as
// corrupt is renamed aside and replaced by an empty database.
func OpenBolt(path string, options *bolt.Options) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: bolt path required", ErrStorage)
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if isCorrupt(err) {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		slog.Warn("pass store corrupt, starting fresh", slog.String("path", path), slog.String("moved_to", aside), slog.Any("error", err))
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, storageErr("move corrupt store", renameErr)
		}
		db, err = bolt.Open(path, 0o600, options)
	}
	if err != nil {
		return nil, storageErr("open bolt", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMeta, bucketSubmissions, bucketOrder} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, storageErr("init buckets", err)
	}
	return &Bolt{PendingTable: NewPendingTable(), db: db}, nil
}

func isCorrupt(err error) bool {
	return errors.Is(err, bolt.ErrInvalid) || errors.Is(err, bolt.ErrChecksum) || errors.Is(err, bolt.ErrVersionMismatch)
}

// Close releases the underlying Bolt database handle.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func readCounter(bucket *bolt.Bucket) uint64 {
	raw := bucket.Get(keyCounter)
	if raw == nil {
		return 0
	}
	var rec counterRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.Warn("pass counter unreadable, treating as fresh", slog.Any("error", err))
		return 0
	}
	return rec.LastID
}

func (b *Bolt) Counter(context.Context) (uint64, error) {
	var value uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		value = readCounter(tx.Bucket(bucketMeta))
		return nil
	})
	if err != nil {
		return 0, storageErr("read counter", err)
	}
	return value, nil
}

func (b *Bolt) IncrementCounter(context.Context) (uint64, error) {
	var next uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		next = readCounter(bucket) + 1
		encoded, err := json.Marshal(counterRecord{LastID: next})
		if err != nil {
			return err
		}
		return bucket.Put(keyCounter, encoded)
	})
	if err != nil {
		return 0, storageErr("increment counter", err)
	}
	return next, nil
}

func (b *Bolt) Submission(_ context.Context, identity string) (Submission, bool, error) {
	var (
		sub   Submission
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSubmissions).Get([]byte(identity))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &sub)
	})
	if err != nil {
		return Submission{}, false, storageErr("read submission", err)
	}
	return sub, found, nil
}

func (b *Bolt) AppendSubmission(_ context.Context, sub Submission) error {
	if strings.TrimSpace(sub.Identity) == "" {
		return ErrIdentityRequired
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubmissions)
		key := []byte(sub.Identity)
		if subs.Get(key) != nil {
			return ErrDuplicateSubmission
		}
		encoded, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		if err := subs.Put(key, encoded); err != nil {
			return err
		}
		order := tx.Bucket(bucketOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		return order.Put(seqKey[:], key)
	})
	return storageErr("append submission", err)
}

func (b *Bolt) Submissions(context.Context) ([]Submission, error) {
	var out []Submission
	err := b.db.View(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubmissions)
		return tx.Bucket(bucketOrder).ForEach(func(_, identity []byte) error {
			raw := subs.Get(identity)
			if raw == nil {
				return nil
			}
			var sub Submission
			if err := json.Unmarshal(raw, &sub); err != nil {
				return fmt.Errorf("decode submission %s: %w", identity, err)
			}
			out = append(out, sub)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list submissions", err)
	}
	return out, nil
}
