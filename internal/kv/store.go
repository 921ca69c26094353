// Package kv is the typed wrapper around the underlying ordered KV store
// (github.com/aalhour/rockyardkv/db) that every engine builds on: one
// Store per on-disk engine directory, with a meta column family and
// (except for strings) a data column family.
//
// This is the "KV façade" component of spec.md's component table; it is
// the only package that imports rockyardkv/db directly.
package kv

import (
	"fmt"
	"path/filepath"

	db "github.com/aalhour/rockyardkv"
)

// Options carries every knob spec.md §6 lists under "configuration options
// accepted at open". Open itself reads only RocksOptions: the block-cache
// fields are not passed to rockyardkv, StatisticsMaxSize is read by the
// sets engine, and SmallCompactionThreshold is read by no engine.
type Options struct {
	// BlockCacheSize is the configured block-cache size in bytes; Open does
	// not apply it.
	BlockCacheSize int64
	// ShareBlockCache records whether engines are to share one block cache;
	// Open does not apply it.
	ShareBlockCache bool
	// SharedCache holds a pre-built cache for ShareBlockCache; Open does
	// not read it.
	SharedCache interface{}
	// StatisticsMaxSize caps the per-key write-count statistics LRU used
	// by the small-compaction heuristic.
	StatisticsMaxSize int
	// SmallCompactionThreshold is the configured per-key write count for
	// small compactions (spec.md §4.4, §6). No engine reads it: the sets
	// engine triggers compact_key tasks on its own fixed thresholds.
	SmallCompactionThreshold int
	// RocksOptions is a pass-through escape hatch for any rockyardkv
	// option spec.md §6 doesn't name explicitly. When non-nil it is used
	// as the base options in place of the defaults.
	RocksOptions *db.Options
}

// DefaultOptions returns the options blackwidow opens every engine with
// absent explicit configuration (mirrors db.DefaultOptions()'s role).
func DefaultOptions() Options {
	return Options{
		BlockCacheSize:           8 << 20, // 8MiB
		ShareBlockCache:          true,
		StatisticsMaxSize:        1 << 20,
		SmallCompactionThreshold: 500,
	}
}

// dataColumnFamilyName is the name of every non-strings engine's data CF.
const dataColumnFamilyName = "data"

// Store wraps one rockyardkv database directory with typed meta/data CF
// accessors. HasData is false only for the strings engine, which stores
// its value inline in the meta record (spec.md §4.1).
type Store struct {
	name    string
	path    string
	db      db.DB
	metaCF  db.ColumnFamilyHandle
	dataCF  db.ColumnFamilyHandle
	hasData bool
}

// Open opens (creating if necessary) the store at dataDir/name. hasData
// controls whether a "data" column family is created alongside the
// default (meta) one.
func Open(dataDir, name string, hasData bool, opts Options, filterFactory db.CompactionFilterFactory) (*Store, error) {
	path := filepath.Join(dataDir, name)

	rocksOpts := opts.RocksOptions
	if rocksOpts == nil {
		rocksOpts = db.DefaultOptions()
	}
	rocksOpts.CreateIfMissing = true
	if filterFactory != nil {
		rocksOpts.CompactionFilterFactory = filterFactory
	}

	database, err := db.Open(path, rocksOpts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s engine at %s: %w", name, path, err)
	}

	s := &Store{
		name:    name,
		path:    path,
		db:      database,
		metaCF:  database.DefaultColumnFamily(),
		hasData: hasData,
	}

	if hasData {
		if existing := database.GetColumnFamily(dataColumnFamilyName); existing != nil {
			s.dataCF = existing
		} else {
			cf, err := database.CreateColumnFamily(db.DefaultColumnFamilyOptions(), dataColumnFamilyName)
			if err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("kv: create data column family for %s: %w", name, err)
			}
			s.dataCF = cf
		}
	}

	if binder, ok := filterFactory.(storeBinder); ok {
		binder.BindStore(s)
	}

	return s, nil
}

// storeBinder is implemented by *FilterFactory; kept as an unexported
// interface so Open doesn't need to import anything beyond db.
type storeBinder interface {
	BindStore(*Store)
}

// Name returns the engine name this store was opened for ("strings",
// "hashes", "sets", "zsets" or "lists").
func (s *Store) Name() string { return s.name }

// DataCF returns the data column family handle and whether this store has
// one; strings never calls it.
func (s *Store) DataCF() (db.ColumnFamilyHandle, bool) {
	return s.dataCF, s.hasData
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Meta accessors
// --------------------------------------------------------------------------

// GetMeta retrieves the meta-value for a user-key. The second return value
// is false if the key has no meta record.
func (s *Store) GetMeta(key string) ([]byte, bool, error) {
	val, err := s.db.GetCF(db.DefaultReadOptions(), s.metaCF, []byte(key))
	if err != nil {
		if err == db.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// GetMetaSnapshot is GetMeta as of a previously taken Snapshot.
func (s *Store) GetMetaSnapshot(snap *Snapshot, key string) ([]byte, bool, error) {
	ro := &db.ReadOptions{Snapshot: snap.inner}
	val, err := s.db.GetCF(ro, s.metaCF, []byte(key))
	if err != nil {
		if err == db.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// PutMeta writes a meta-value outside of a batch; most mutating
// operations instead go through Batch.PutMeta for atomicity with their
// data-record writes.
func (s *Store) PutMeta(key string, value []byte) error {
	return s.db.PutCF(db.DefaultWriteOptions(), s.metaCF, []byte(key), value)
}

// DeleteMeta deletes a meta-value outside of a batch.
func (s *Store) DeleteMeta(key string) error {
	return s.db.DeleteCF(db.DefaultWriteOptions(), s.metaCF, []byte(key))
}

// --------------------------------------------------------------------------
// Data accessors
// --------------------------------------------------------------------------

// GetData retrieves a single data record by its composite key.
func (s *Store) GetData(dataKey []byte) ([]byte, bool, error) {
	if !s.hasData {
		return nil, false, fmt.Errorf("kv: %s store has no data column family", s.name)
	}
	val, err := s.db.GetCF(db.DefaultReadOptions(), s.dataCF, dataKey)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// NewDataIterator creates an iterator over the data column family,
// optionally scoped to a snapshot.
func (s *Store) NewDataIterator(snap *Snapshot) (db.Iterator, error) {
	if !s.hasData {
		return nil, fmt.Errorf("kv: %s store has no data column family", s.name)
	}
	ro := db.DefaultReadOptions()
	if snap != nil {
		ro = &db.ReadOptions{Snapshot: snap.inner}
	}
	return s.db.NewIteratorCF(ro, s.dataCF), nil
}

// NewMetaIterator creates an iterator over the meta column family,
// optionally scoped to a snapshot. Used by cross-engine SCAN.
func (s *Store) NewMetaIterator(snap *Snapshot) db.Iterator {
	ro := db.DefaultReadOptions()
	if snap != nil {
		ro = &db.ReadOptions{Snapshot: snap.inner}
	}
	return s.db.NewIteratorCF(ro, s.metaCF)
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// Snapshot is a scoped wrapper around db.GetSnapshot/ReleaseSnapshot,
// matching the resource-scoping discipline spec.md §5 requires (acquired
// and released on every exit path).
type Snapshot struct {
	store *Store
	inner *db.Snapshot
}

// NewSnapshot takes a consistent point-in-time view of the store, used by
// SCAN, range reads and set algebra (spec.md §5 "Ordering").
func (s *Store) NewSnapshot() *Snapshot {
	return &Snapshot{store: s, inner: s.db.GetSnapshot()}
}

// Close releases the snapshot. Safe to call at most once.
func (sn *Snapshot) Close() {
	if sn.inner != nil {
		sn.store.db.ReleaseSnapshot(sn.inner)
		sn.inner = nil
	}
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

// CompactRange triggers compaction of the meta CF (and data CF, if
// present) over [begin, end). Both bounds nil compacts everything.
func (s *Store) CompactRange(begin, end []byte) error {
	opts := &db.CompactRangeOptions{}
	if err := s.db.CompactRange(opts, begin, end); err != nil {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// StoreInfo reports name, path and column-family metadata about an open
// store (no size), generalized from the teacher's lib/db/db.go
// DatabaseInfo/Feature reporting shape (an in-memory KVDB's feature-flag
// story) to an on-disk store's CF story.
type StoreInfo struct {
	Name            string
	Path            string
	ColumnFamilies  []string
	HasDataColumnFamily bool
}

// Info returns metadata about this store.
func (s *Store) Info() StoreInfo {
	return StoreInfo{
		Name:                s.name,
		Path:                s.path,
		ColumnFamilies:      s.db.ListColumnFamilies(),
		HasDataColumnFamily: s.hasData,
	}
}
