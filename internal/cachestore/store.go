// SPDX-License-Identifier: MPL-2.0

package cachestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/invowk/modlink/internal/logging"
)

// FileExt is the extension of cache artifacts.
const FileExt = ".mlcache"

const manifestPrefix = "manifest/"

var (
	// ErrStoreClosed is returned by operations on a closed Store.
	ErrStoreClosed = errors.New("cache store is closed")
	// ErrInvalidManifest is returned by Put for a manifest without a target
	// or tier.
	ErrInvalidManifest = errors.New("invalid cache manifest")
)

type (
	// Manifest describes one cache artifact.
	Manifest struct {
		// Target is the target triple the artifact was built for.
		Target string `msgpack:"target"`
		// Tier is the scope tier the artifact covers.
		Tier string `msgpack:"tier"`
		// ArtifactPath is the artifact file.
		ArtifactPath string `msgpack:"path"`
		// BuiltInTier reports whether Tier is the built-in scope.
		BuiltInTier bool `msgpack:"builtIn"`
		// Keys are the module keys the artifact satisfies, sorted.
		Keys []string `msgpack:"keys"`
		// Hashes maps each key to the module content hash at build time.
		Hashes  map[string]string `msgpack:"hashes"`
		Created time.Time         `msgpack:"created"`
	}

	// Options configure Open.
	Options struct {
		// Dir is the database directory. Ignored when InMemory is set.
		Dir      string
		InMemory bool
		Logger   *log.Logger
	}

	// Store is a manifest database. It is safe for concurrent use.
	Store struct {
		db     *badger.DB
		logger *log.Logger
	}

	// badgerLogger forwards Badger's internal logging at debug level.
	badgerLogger struct {
		logger *log.Logger
	}
)

func (l badgerLogger) Errorf(format string, args ...any) { l.logger.Errorf(format, args...) }

func (l badgerLogger) Warningf(format string, args ...any) { l.logger.Warnf(format, args...) }

func (l badgerLogger) Infof(format string, args ...any) { l.logger.Debugf(format, args...) }

func (l badgerLogger) Debugf(format string, args ...any) { l.logger.Debugf(format, args...) }

// Open opens (creating if needed) the manifest database.
func Open(opts Options) (*Store, error) {
	logger := logging.OrDiscard(opts.Logger)

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("cache store directory is required")
		}
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache store directory %s: %w", opts.Dir, err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func manifestKey(target, tier string) []byte {
	return []byte(manifestPrefix + target + "/" + tier)
}

func targetPrefix(target string) []byte {
	return []byte(manifestPrefix + target + "/")
}

// Put stores m, replacing any manifest for the same target and tier.
func (s *Store) Put(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return ErrStoreClosed
	}
	if m.Target == "" || m.Tier == "" {
		return fmt.Errorf("%w: target and tier are required", ErrInvalidManifest)
	}
	m.Keys = slices.Clone(m.Keys)
	slices.Sort(m.Keys)
	m.Keys = slices.Compact(m.Keys)
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}

	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest %s/%s: %w", m.Target, m.Tier, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(m.Target, m.Tier), data)
	})
	if err != nil {
		return fmt.Errorf("store manifest %s/%s: %w", m.Target, m.Tier, err)
	}
	s.logger.Debug("stored cache manifest", "target", m.Target, "tier", m.Tier, "keys", len(m.Keys))
	return nil
}

// Get returns the manifest for target and tier. The boolean is false when
// none is stored.
func (s *Store) Get(ctx context.Context, target, tier string) (Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, false, err
	}
	if s.db == nil {
		return Manifest{}, false, ErrStoreClosed
	}
	var m Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(target, tier))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("read manifest %s/%s: %w", target, tier, err)
	}
	return m, true, nil
}

// List returns every manifest stored for target, ordered by tier name.
func (s *Store) List(ctx context.Context, target string) ([]Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	var out []Manifest
	prefix := targetPrefix(target)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Manifest
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list manifests for %s: %w", target, err)
	}
	return out, nil
}

// Delete removes every manifest stored for target and returns how many were
// removed. Artifact files are left in place.
func (s *Store) Delete(ctx context.Context, target string) (int, error) {
	manifests, err := s.List(ctx, target)
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, m := range manifests {
			if err := txn.Delete(manifestKey(m.Target, m.Tier)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete manifests for %s: %w", target, err)
	}
	return len(manifests), nil
}

// Path implements the link planner's cache entry.
func (m Manifest) Path() string { return m.ArtifactPath }

// BuiltIn implements the link planner's cache entry.
func (m Manifest) BuiltIn() bool { return m.BuiltInTier }

// Contains reports whether the artifact satisfies key.
func (m Manifest) Contains(key string) bool {
	_, found := slices.BinarySearch(m.Keys, key)
	return found
}

// Stale reports whether m no longer matches current, the content hashes of
// the modules the tier holds now. A manifest is stale when the tier gained
// or lost a module or any module's hash changed.
func Stale(m Manifest, current map[string]string) bool {
	if len(current) != len(m.Keys) {
		return true
	}
	for _, key := range m.Keys {
		hash, ok := current[key]
		if !ok || hash != m.Hashes[key] {
			return true
		}
	}
	return false
}
