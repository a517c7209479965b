// SPDX-License-Identifier: MIT

// Package rpkicache persists historical RPKI snapshots in a local LevelDB
// store so repeated loads for the same source and date skip the archive
// download. Live data is never cached; it changes continuously.
package rpkicache

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"

	"bgpinfo/pkg/model"
)

const (
	// schemaVersion guards the stored encoding; snapshots written by an
	// older encoding read back as cache misses.
	schemaVersion = 1

	snapshotPrefix = "snapshot/"
	metaPrefix     = "meta/"
)

// ErrCacheClosed is returned by operations on a closed store.
const ErrCacheClosed = model.Error("cache store is closed")

// Store is a LevelDB-backed snapshot cache.
type Store struct {
	db     *leveldb.DB
	mu     sync.RWMutex
	path   string
	closed bool
}

// Open opens or creates a cache store at the specified path.
func Open(path string) (*Store, error) {
	opts := &opt.Options{
		Compression: opt.SnappyCompression,
		// Snapshot writes land in one burst per day; a large buffer keeps
		// them off the compaction path.
		WriteBuffer: 64 * 1024 * 1024,
	}

	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrCacheClosed
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the store path.
func (s *Store) Path() string {
	return s.path
}

// snapshotKey builds the key for one source and calendar date.
func snapshotKey(source string, date time.Time) []byte {
	return []byte(snapshotPrefix + source + "/" + date.UTC().Format("2006-01-02"))
}

// storedRoa is the msgpack shape of one ROA. Prefixes are kept in their
// text form; netip types have no stable binary encoding across versions.
type storedRoa struct {
	Prefix    string
	ASN       uint32
	MaxLength uint8
	RIR       string
	NotBefore int64
	NotAfter  int64
}

type storedAspa struct {
	CustomerASN uint32
	Providers   []uint32
	Expires     int64
}

type storedSnapshot struct {
	Schema  int
	SavedAt int64
	Roas    []storedRoa
	Aspas   []storedAspa
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// Put stores the records of one loaded snapshot.
func (s *Store) Put(source string, date time.Time, roas []model.Roa, aspas []model.Aspa) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrCacheClosed
	}

	snap := storedSnapshot{
		Schema:  schemaVersion,
		SavedAt: time.Now().Unix(),
		Roas:    make([]storedRoa, 0, len(roas)),
		Aspas:   make([]storedAspa, 0, len(aspas)),
	}
	for _, r := range roas {
		snap.Roas = append(snap.Roas, storedRoa{
			Prefix:    r.Prefix.String(),
			ASN:       r.ASN,
			MaxLength: r.MaxLength,
			RIR:       r.RIR.String(),
			NotBefore: unixOrZero(r.NotBefore),
			NotAfter:  unixOrZero(r.NotAfter),
		})
	}
	for _, a := range aspas {
		snap.Aspas = append(snap.Aspas, storedAspa{
			CustomerASN: a.CustomerASN,
			Providers:   a.Providers,
			Expires:     unixOrZero(a.Expires),
		})
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.db.Put(snapshotKey(source, date), data, nil)
}

// Get retrieves a cached snapshot. The third return reports whether the
// snapshot was present and readable; corrupt or outdated entries read as
// misses, not errors.
func (s *Store) Get(source string, date time.Time) ([]model.Roa, []model.Aspa, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, nil, false, ErrCacheClosed
	}

	data, err := s.db.Get(snapshotKey(source, date), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("cache get failed: %w", err)
	}

	var snap storedSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, nil, false, nil
	}
	if snap.Schema != schemaVersion {
		return nil, nil, false, nil
	}

	roas := make([]model.Roa, 0, len(snap.Roas))
	for _, r := range snap.Roas {
		prefix, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			return nil, nil, false, nil
		}
		roas = append(roas, model.Roa{
			Prefix:    prefix,
			ASN:       r.ASN,
			MaxLength: r.MaxLength,
			RIR:       model.ParseRir(r.RIR),
			NotBefore: timeOrZero(r.NotBefore),
			NotAfter:  timeOrZero(r.NotAfter),
		})
	}
	aspas := make([]model.Aspa, 0, len(snap.Aspas))
	for _, a := range snap.Aspas {
		aspas = append(aspas, model.Aspa{
			CustomerASN: a.CustomerASN,
			Providers:   a.Providers,
			Expires:     timeOrZero(a.Expires),
		})
	}
	return roas, aspas, true, nil
}

// Delete removes a cached snapshot. Deleting an absent key is a no-op.
func (s *Store) Delete(source string, date time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrCacheClosed
	}
	return s.db.Delete(snapshotKey(source, date), nil)
}

// SnapshotInfo describes one cached snapshot.
type SnapshotInfo struct {
	Source string
	Date   time.Time
}

// List enumerates the cached snapshots in key order.
func (s *Store) List() ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrCacheClosed
	}

	var infos []SnapshotInfo
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(snapshotPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		key := strings.TrimPrefix(string(iter.Key()), snapshotPrefix)
		slash := strings.LastIndexByte(key, '/')
		if slash < 0 {
			continue
		}
		date, err := time.Parse("2006-01-02", key[slash+1:])
		if err != nil {
			continue
		}
		infos = append(infos, SnapshotInfo{Source: key[:slash], Date: date})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("cache iteration failed: %w", err)
	}
	return infos, nil
}

// SetMetadata sets a metadata key-value pair.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrCacheClosed
	}
	return s.db.Put([]byte(metaPrefix+key), []byte(value), nil)
}

// GetMetadata retrieves a metadata value, "" if unset.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrCacheClosed
	}

	value, err := s.db.Get([]byte(metaPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return string(value), nil
}
