// Package redis is a store.Store backed by Redis. Records are msgpack-encoded
// strings; the owner index is a SET per owner, the creation-time index a ZSET
// scored by unix milliseconds, and a SET of known owners backs full scans.
//
// Keyspace (owned by this store; do not write under the namespace prefix):
//
//	<ns>:rec:<key>      - encoded record
//	<ns>:owner:<owner>  - SET of keys belonging to owner
//	<ns>:owners         - SET of owners with at least one record
//	<ns>:bytime         - ZSET of keys scored by createdAt millis
//
// Index writes are pipelined with the record write; on a partial failure the
// next Set/Delete repairs the indexes (no cross-tier ACID is promised).
package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/artcache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

type Config struct {
	Client    goredis.UniversalClient
	Namespace string // logical namespace, e.g. "art"; required
	// CloseClient releases the client on Close. Set true only if this store
	// exclusively owns the client.
	CloseClient bool
}

// Store is a Redis-backed store.Store.
type Store struct {
	rdb         goredis.UniversalClient
	ns          string
	closeClient bool

	mu          sync.Mutex
	initialized bool
}

var _ store.Store = (*Store)(nil)

// record is the msgpack wire shape. Timestamps travel as unix millis so the
// encoding stays stable across time.Time representation changes.
type record struct {
	Key          string `msgpack:"k"`
	OwnerID      string `msgpack:"o"`
	LocationID   string `msgpack:"l"`
	Status       string `msgpack:"s"`
	Payload      []byte `msgpack:"p"`
	ErrorMessage string `msgpack:"e"`
	CreatedAt    int64  `msgpack:"c"`
	UpdatedAt    int64  `msgpack:"u"`
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "art"
	}
	return &Store{rdb: cfg.Client, ns: ns, closeClient: cfg.CloseClient}, nil
}

func (s *Store) recKey(key string) string     { return s.ns + ":rec:" + key }
func (s *Store) ownerKey(owner string) string { return s.ns + ":owner:" + owner }
func (s *Store) ownersKey() string            { return s.ns + ":owners" }
func (s *Store) timeKey() string              { return s.ns + ":bytime" }

// Initialize verifies connectivity once. Concurrent callers serialize on the
// mutex and the first success is shared; a failure leaves the store
// uninitialized so the next call retries.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return &store.Error{Op: "initialize", Err: err}
	}
	s.initialized = true
	return nil
}

func (s *Store) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return &store.Error{Op: "close", Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Record, bool, error) {
	if err := s.Initialize(ctx); err != nil {
		return store.Record{}, false, err
	}

	b, err := s.rdb.Get(ctx, s.recKey(key)).Bytes()
	if err == goredis.Nil {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, &store.Error{Op: "get", Key: key, Err: err}
	}
	rec, err := decodeRecord(b)
	if err != nil {
		return store.Record{}, false, &store.Error{Op: "get", Key: key, Err: err}
	}
	return rec, true, nil
}

// Set upserts rec and keeps the owner and time indexes consistent in one
// pipeline. An existing record's CreatedAt wins over the incoming one.
func (s *Store) Set(ctx context.Context, rec store.Record) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	if prev, err := s.rdb.Get(ctx, s.recKey(rec.Key)).Bytes(); err == nil {
		if old, derr := decodeRecord(prev); derr == nil {
			createdAt = old.CreatedAt
		}
	} else if err != goredis.Nil {
		return &store.Error{Op: "set", Key: rec.Key, Err: err}
	}

	wire := record{
		Key:          rec.Key,
		OwnerID:      rec.OwnerID,
		LocationID:   rec.LocationID,
		Status:       rec.Status,
		Payload:      rec.Payload,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    createdAt.UTC().UnixMilli(),
		UpdatedAt:    now.UTC().UnixMilli(),
	}
	b, err := msgpack.Marshal(wire)
	if err != nil {
		return &store.Error{Op: "set", Key: rec.Key, Err: err}
	}

	_, err = s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.recKey(rec.Key), b, 0)
		p.SAdd(ctx, s.ownerKey(rec.OwnerID), rec.Key)
		p.SAdd(ctx, s.ownersKey(), rec.OwnerID)
		p.ZAdd(ctx, s.timeKey(), goredis.Z{Score: float64(wire.CreatedAt), Member: rec.Key})
		return nil
	})
	if err != nil {
		return &store.Error{Op: "set", Key: rec.Key, Err: err}
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := s.Initialize(ctx); err != nil {
		return false, err
	}

	n, err := s.rdb.Exists(ctx, s.recKey(key)).Result()
	if err != nil {
		return false, &store.Error{Op: "has", Key: key, Err: err}
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.Initialize(ctx); err != nil {
		return false, err
	}

	rec, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	_, err = s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.recKey(key))
		p.SRem(ctx, s.ownerKey(rec.OwnerID), key)
		p.ZRem(ctx, s.timeKey(), key)
		return nil
	})
	if err != nil {
		return false, &store.Error{Op: "delete", Key: key, Err: err}
	}
	return true, nil
}

func (s *Store) Clear(ctx context.Context, owner string) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	if owner != "" {
		return s.clearOwner(ctx, owner)
	}

	owners, err := s.rdb.SMembers(ctx, s.ownersKey()).Result()
	if err != nil {
		return &store.Error{Op: "clear", Err: err}
	}
	for _, o := range owners {
		if err := s.clearOwner(ctx, o); err != nil {
			return err
		}
	}
	if err := s.rdb.Del(ctx, s.ownersKey(), s.timeKey()).Err(); err != nil {
		return &store.Error{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) clearOwner(ctx context.Context, owner string) error {
	keys, err := s.rdb.SMembers(ctx, s.ownerKey(owner)).Result()
	if err != nil {
		return &store.Error{Op: "clear", Err: err}
	}

	_, err = s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, s.recKey(k))
			p.ZRem(ctx, s.timeKey(), k)
		}
		p.Del(ctx, s.ownerKey(owner))
		p.SRem(ctx, s.ownersKey(), owner)
		return nil
	})
	if err != nil {
		return &store.Error{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, owner string) ([]store.Record, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	var keys []string
	var err error
	if owner != "" {
		keys, err = s.rdb.SMembers(ctx, s.ownerKey(owner)).Result()
	} else {
		keys, err = s.rdb.ZRange(ctx, s.timeKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, &store.Error{Op: "load", Err: err}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	recKeys := make([]string, len(keys))
	for i, k := range keys {
		recKeys[i] = s.recKey(k)
	}
	vals, err := s.rdb.MGet(ctx, recKeys...).Result()
	if err != nil {
		return nil, &store.Error{Op: "load", Err: err}
	}

	out := make([]store.Record, 0, len(vals))
	for _, v := range vals {
		raw, ok := asBytes(v)
		if !ok {
			continue // index ahead of a deleted record; skip
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			continue // undecodable record; reads self-heal elsewhere
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	if err := s.Initialize(ctx); err != nil {
		return store.Stats{}, err
	}

	recs, err := s.Load(ctx, "")
	if err != nil {
		return store.Stats{}, err
	}

	st := store.Stats{
		TotalEntries:   len(recs),
		EntriesByOwner: make(map[string]int),
	}
	for _, rec := range recs {
		st.EntriesByOwner[rec.OwnerID]++
		st.EstimatedBytes += int64(len(rec.Key)) + int64(len(rec.Payload)) + int64(len(rec.ErrorMessage))
		if st.OldestCreatedAt.IsZero() || rec.CreatedAt.Before(st.OldestCreatedAt) {
			st.OldestCreatedAt = rec.CreatedAt
		}
		if rec.CreatedAt.After(st.NewestCreatedAt) {
			st.NewestCreatedAt = rec.CreatedAt
		}
	}
	return st, nil
}

// Cleanup removes records older than maxAge via the time index, then prunes
// oldest-first down to maxCount when a soft count target is given.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}

	deleted := 0
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UTC().UnixMilli()
		keys, err := s.rdb.ZRangeByScore(ctx, s.timeKey(), &goredis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatInt(cutoff, 10), // exclusive: strictly older than cutoff
		}).Result()
		if err != nil {
			return 0, &store.Error{Op: "cleanup", Err: err}
		}
		n, err := s.deleteKeys(ctx, keys)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}

	if maxCount > 0 {
		total, err := s.rdb.ZCard(ctx, s.timeKey()).Result()
		if err != nil {
			return deleted, &store.Error{Op: "cleanup", Err: err}
		}
		if excess := int(total) - maxCount; excess > 0 {
			keys, err := s.rdb.ZRange(ctx, s.timeKey(), 0, int64(excess-1)).Result()
			if err != nil {
				return deleted, &store.Error{Op: "cleanup", Err: err}
			}
			n, err := s.deleteKeys(ctx, keys)
			deleted += n
			if err != nil {
				return deleted, err
			}
		}
	}

	return deleted, nil
}

func (s *Store) deleteKeys(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		ok, err := s.Delete(ctx, k)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func decodeRecord(b []byte) (store.Record, error) {
	var w record
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return store.Record{}, err
	}
	return store.Record{
		Key:          w.Key,
		OwnerID:      w.OwnerID,
		LocationID:   w.LocationID,
		Status:       w.Status,
		Payload:      w.Payload,
		ErrorMessage: w.ErrorMessage,
		CreatedAt:    time.UnixMilli(w.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(w.UpdatedAt).UTC(),
	}, nil
}

func asBytes(v any) ([]byte, bool) {
	switch vv := v.(type) {
	case nil:
		return nil, false
	case []byte:
		return vv, true
	case string:
		return []byte(vv), true
	default:
		return nil, false
	}
}
