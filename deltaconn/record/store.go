// Package record persists raw session frames in a bbolt database so a live
// session can be replayed later in static mode.
package record

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketFrames = "frames"

// Store is an append-only log of frames keyed by arrival sequence.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the recording at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketFrames))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("record: init: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores frame and returns its sequence number, starting at 1.
func (s *Store) Append(frame []byte) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketFrames))
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(marshalSeq(seq), frame)
	})
	if err != nil {
		return 0, fmt.Errorf("record: append: %w", err)
	}
	return seq, nil
}

// Len returns the number of stored frames.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketFrames)).Stats().KeyN
		return nil
	})
	return n, err
}

// Frames yields every stored frame in sequence order. Frames are copied out
// of the transaction before yield is called.
func (s *Store) Frames(ctx context.Context, yield func(frame []byte) error) error {
	var after uint64
	for {
		batch, last, err := s.batch(after, 64)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, frame := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := yield(frame); err != nil {
				return err
			}
		}
		after = last
	}
}

// batch reads up to n frames with sequence numbers greater than after.
func (s *Store) batch(after uint64, n int) ([][]byte, uint64, error) {
	var frames [][]byte
	last := after
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketFrames)).Cursor()
		for k, v := c.Seek(marshalSeq(after + 1)); k != nil && len(frames) < n; k, v = c.Next() {
			frames = append(frames, append([]byte(nil), v...))
			last = unmarshalSeq(k)
		}
		return nil
	})
	if err != nil {
		return nil, after, fmt.Errorf("record: read: %w", err)
	}
	return frames, last, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func unmarshalSeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
