package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key layout. Blob ids and band values are hex, so lexicographic key order
// matches numeric order and prefix scans yield contiguous groups.
//
//	meta/<blob-id>/<doc-key>          -> JSON Meta
//	sketch/<blob-id>                  -> lz4 frame of sketch bytes
//	band/<band %04x>/<value hex>/<blob-id> -> empty
//	docfreq                           -> lz4 frame of the model
//	params                            -> lz4 frame of the parameters
const (
	metaPrefix   = "meta/"
	sketchPrefix = "sketch/"
	bandPrefix   = "band/"
	docFreqKey   = "docfreq"
	paramsKey    = "params"

	keySep = '/'
)

// Write conflicts are retried with doubling backoff before giving up.
const (
	maxWriteRetries   = 5
	writeRetryBackoff = 10 * time.Millisecond

	dbDirPerm = 0o750
)

// Badger is the embedded Store implementation.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// Open opens (or creates) an index database at path.
func Open(path string, logger *slog.Logger) (*Badger, error) {
	if err := os.MkdirAll(path, dbDirPerm); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	return &Badger{db: db}, nil
}

// OpenInMemory opens a non-persistent database, for tests and dry runs.
func OpenInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open in-memory: %w", err)
	}

	return &Badger{db: db}, nil
}

// Close implements Store.
func (s *Badger) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}

	return nil
}

// update runs a read-write transaction, retrying bounded times on conflict.
func (s *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	backoff := writeRetryBackoff

	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt == maxWriteRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// PutDocument implements Store.
func (s *Badger) PutDocument(ctx context.Context, blobID, docKey string, meta Meta) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode meta: %w", err)
	}

	key := metaPrefix + blobID + string(keySep) + docKey

	err = s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("store: put document %s: %w", docKey, err)
	}

	return nil
}

// PutSketch implements Store.
func (s *Badger) PutSketch(ctx context.Context, blobID string, sketch []byte) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(sketchPrefix+blobID), compress(sketch))
	})
	if err != nil {
		return fmt.Errorf("store: put sketch %s: %w", blobID, err)
	}

	return nil
}

// Sketch implements Store.
func (s *Badger) Sketch(_ context.Context, blobID string) ([]byte, error) {
	var frame []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sketchPrefix + blobID))
		if err != nil {
			return err
		}

		frame, err = item.ValueCopy(nil)

		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: sketch %s", ErrNotFound, blobID)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get sketch %s: %w", blobID, err)
	}

	return decompress(frame)
}

// bandKey builds band/<band>/<value>/<blobID>.
func bandKey(band int, value []byte, blobID string) []byte {
	key := make([]byte, 0, len(bandPrefix)+4+1+hex.EncodedLen(len(value))+1+len(blobID))
	key = append(key, bandPrefix...)
	key = appendBandNumber(key, band)
	key = append(key, keySep)
	key = hex.AppendEncode(key, value)
	key = append(key, keySep)
	key = append(key, blobID...)

	return key
}

// appendBandNumber writes the band index as 4 fixed-width hex digits.
func appendBandNumber(dst []byte, band int) []byte {
	const width = 4

	hexDigits := strconv.FormatUint(uint64(band), 16)
	for range width - len(hexDigits) {
		dst = append(dst, '0')
	}

	return append(dst, hexDigits...)
}

// PutBands implements Store.
func (s *Badger) PutBands(ctx context.Context, blobID string, values []Value) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		for band, value := range values {
			if err := txn.Set(bandKey(band, value[:], blobID), nil); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("store: put bands %s: %w", blobID, err)
	}

	return nil
}

// BucketMembers implements Store.
func (s *Badger) BucketMembers(_ context.Context, band int, value Value) ([]string, error) {
	prefix := bandKey(band, value[:], "")

	var members []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			members = append(members, string(key[len(prefix):]))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: bucket members: %w", err)
	}

	return members, nil
}

// DocumentsByBlob implements Store.
func (s *Badger) DocumentsByBlob(_ context.Context, blobID string) ([]Document, error) {
	prefix := []byte(metaPrefix + blobID + string(keySep))

	var docs []Document

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			doc := Document{Key: string(item.Key()[len(prefix):])}

			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc.Meta)
			})
			if err != nil {
				return fmt.Errorf("%w: meta for %s: %v", ErrCorrupt, doc.Key, err)
			}

			docs = append(docs, doc)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: documents by blob %s: %w", blobID, err)
	}

	return docs, nil
}

// ScanDocuments implements Store.
func (s *Badger) ScanDocuments(ctx context.Context, fn func(blobID, docKey string, meta Meta) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			item := it.Item()
			rest := item.Key()[len(metaPrefix):]

			sep := bytes.IndexByte(rest, keySep)
			if sep < 0 {
				return fmt.Errorf("%w: document key %q", ErrCorrupt, item.Key())
			}

			blobID := string(rest[:sep])
			docKey := string(rest[sep+1:])

			var meta Meta

			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("%w: meta for %s: %v", ErrCorrupt, docKey, err)
			}

			if err := fn(blobID, docKey, meta); err != nil {
				return err
			}
		}

		return nil
	})
	if errors.Is(err, ErrStop) {
		return nil
	}

	return err
}

// ScanBuckets implements Store. Band keys sort by (band, value, blob), so one
// forward pass sees each bucket's members contiguously.
func (s *Badger) ScanBuckets(ctx context.Context, fn func(bucket Bucket) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(bandPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		var (
			current Bucket
			open    bool
		)

		flush := func() error {
			if !open {
				return nil
			}

			open = false

			return fn(current)
		}

		for it.Rewind(); it.Valid(); it.Next() {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			band, value, blobID, err := parseBandKey(it.Item().Key())
			if err != nil {
				return err
			}

			if !open || band != current.Band || value != current.Value {
				if err := flush(); err != nil {
					return err
				}

				current = Bucket{Band: band, Value: value}
				open = true
			}

			current.Members = append(current.Members, blobID)
		}

		return flush()
	})
	if errors.Is(err, ErrStop) {
		return nil
	}

	return err
}

// parseBandKey splits band/<band>/<value>/<blobID>.
func parseBandKey(key []byte) (int, Value, string, error) {
	rest := key[len(bandPrefix):]

	var value Value

	parts := bytes.SplitN(rest, []byte{keySep}, 3)
	if len(parts) != 3 {
		return 0, value, "", fmt.Errorf("%w: band key %q", ErrCorrupt, key)
	}

	band, err := strconv.ParseUint(string(parts[0]), 16, 16)
	if err != nil {
		return 0, value, "", fmt.Errorf("%w: band number in %q", ErrCorrupt, key)
	}

	if hex.DecodedLen(len(parts[1])) != len(value) {
		return 0, value, "", fmt.Errorf("%w: band value in %q", ErrCorrupt, key)
	}

	if _, err := hex.Decode(value[:], parts[1]); err != nil {
		return 0, value, "", fmt.Errorf("%w: band value in %q", ErrCorrupt, key)
	}

	return int(band), value, string(parts[2]), nil
}

// SaveDocFreq implements Store.
func (s *Badger) SaveDocFreq(ctx context.Context, data []byte) error {
	return s.saveBlob(ctx, docFreqKey, data)
}

// LoadDocFreq implements Store.
func (s *Badger) LoadDocFreq(_ context.Context) ([]byte, error) {
	return s.loadBlob(docFreqKey)
}

// SaveParams implements Store.
func (s *Badger) SaveParams(ctx context.Context, data []byte) error {
	return s.saveBlob(ctx, paramsKey, data)
}

// LoadParams implements Store.
func (s *Badger) LoadParams(_ context.Context) ([]byte, error) {
	return s.loadBlob(paramsKey)
}

func (s *Badger) saveBlob(ctx context.Context, key string, data []byte) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), compress(data))
	})
	if err != nil {
		return fmt.Errorf("store: save %s: %w", key, err)
	}

	return nil
}

func (s *Badger) loadBlob(key string) ([]byte, error) {
	var frame []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		frame, err = item.ValueCopy(nil)

		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", key, err)
	}

	return decompress(frame)
}

// Reset implements Store. Band keys embed the band value, so stale rows from
// an earlier parameter generation would never be overwritten; dropping the
// prefixes is the only way to clear them.
func (s *Badger) Reset(_ context.Context) error {
	err := s.db.DropPrefix(
		[]byte(metaPrefix),
		[]byte(sketchPrefix),
		[]byte(bandPrefix),
		[]byte(docFreqKey),
		[]byte(paramsKey),
	)
	if err != nil {
		return fmt.Errorf("store: reset: %w", err)
	}

	return nil
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
