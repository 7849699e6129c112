package query

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cealn-go/cealn/filehash"
)

const resultsBucket = "query_results"

// Store is the durable shadow of the query graph's result table,
// generalized from the teacher's db/bolt wrapper (Open/CreateBucket/
// PutJSON/GetJSON). Persisted state is advisory only: on restart every
// node starts Empty and re-runs once; a handler may consult
// LastOutputHash to skip redundant expensive work (e.g. re-downloading a
// file whose hash it already knows) even though the node itself is cold.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the bbolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("query: opening store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(resultsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("query: creating results bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

type storedResult struct {
	HasOutputHash bool
	OutputHash    [32]byte
	ErrMsg        string
	RunID         uint64
}

// PutResult persists the last-known result for key (a QueryNode's key()).
func (s *Store) PutResult(key string, res Result) error {
	sr := storedResult{RunID: res.RunID}
	if res.Err != nil {
		sr.ErrMsg = res.Err.Error()
	} else {
		sr.HasOutputHash = true
		sr.OutputHash = res.OutputHash.Bytes()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sr); err != nil {
		return fmt.Errorf("query: encoding result for %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(resultsBucket)).Put([]byte(key), buf.Bytes())
	})
}

// LastOutputHash returns the output hash recorded for key before the
// server last shut down, if any. It does not resurrect the node's state.
func (s *Store) LastOutputHash(key string) (filehash.Hash, bool, error) {
	var sr storedResult
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(resultsBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&sr)
	})
	if err != nil || !found || !sr.HasOutputHash {
		return filehash.Hash{}, false, err
	}

	h, err := filehash.FromBytes(filehash.KindFile, sr.OutputHash)
	if err != nil {
		return filehash.Hash{}, false, err
	}
	return h, true, nil
}
