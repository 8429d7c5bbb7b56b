package storage

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// DefaultDBFilename is the file created inside the data directory.
const DefaultDBFilename = "chain.db"

// Bucket names
var (
	bucketBlocks = []byte("blocks") // id -> block JSON
	bucketMeta   = []byte("meta")   // tip

	metaKeyTip = []byte("tip")
)

// BoltStore wraps bbolt for block persistence.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the block database in dataDir.
func OpenBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}
	db, err := bolt.Open(filepath.Join(dataDir, DefaultDBFilename), 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlocks, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) PutBlock(b *zerocash.Block) error {
	id := b.ID()
	data, err := b.Serialize()
	if err != nil {
		return errors.Wrapf(err, "failed to encode block %s", id.Short())
	}
	return errors.WithMessagef(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(id[:], data)
	}), "failed to store block %s", id.Short())
}

func (s *BoltStore) GetBlock(id zerocash.Digest) (*zerocash.Block, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketBlocks).Get(id[:]); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read block")
	}
	if data == nil {
		return nil, ErrNotFound
	}
	b, err := zerocash.DeserializeBlock(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "stored block %s", id.Short())
	}
	return b, nil
}

func (s *BoltStore) HasBlock(id zerocash.Digest) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketBlocks).Get(id[:]) != nil
		return nil
	})
	return found, errors.WithMessage(err, "failed to read block")
}

func (s *BoltStore) Blocks() ([]*zerocash.Block, error) {
	var out []*zerocash.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, v []byte) error {
			b, err := zerocash.DeserializeBlock(v)
			if err != nil {
				return errors.WithMessagef(err, "stored block %x", k[:4])
			}
			out = append(out, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByHeight(out)
	return out, nil
}

func (s *BoltStore) SetTip(id zerocash.Digest) error {
	return errors.WithMessage(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyTip, id[:])
	}), "failed to store tip")
}

func (s *BoltStore) Tip() (zerocash.Digest, bool, error) {
	var id zerocash.Digest
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyTip)
		if v == nil {
			return nil
		}
		if len(v) != zerocash.DigestSize {
			return errors.Errorf("invalid tip length: got %d", len(v))
		}
		copy(id[:], v)
		found = true
		return nil
	})
	return id, found, err
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
