package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each collection in one Redis hash of id -> JSON record.
// Atomic updates use WATCH/MULTI over the touched hashes and publish one
// change message per collection; Serve fans those messages out to the local
// subscriptions, which re-run their queries.
type RedisStore struct {
	rdb       *redis.Client
	prefix    string
	watches   *watchSet
	ready     chan struct{}
	readyOnce sync.Once
	logger    *slog.Logger
}

// NewRedisStore creates a store whose keys all start with prefix.
func NewRedisStore(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:     rdb,
		prefix:  prefix,
		watches: newWatchSet(),
		ready:   make(chan struct{}),
		logger:  logger,
	}
}

func (s *RedisStore) collectionKey(path string) string { return s.prefix + "col:" + path }

func (s *RedisStore) changeChannel(path string) string { return s.prefix + "chg:" + path }

// String implements fmt.Stringer for the supervisor.
func (s *RedisStore) String() string { return "redis-store" }

// Ready is closed once Serve is receiving change messages.
func (s *RedisStore) Ready() <-chan struct{} { return s.ready }

// Serve listens for change messages until ctx ends. Every (re)connect reloads
// all subscriptions so changes published while disconnected are not lost.
func (s *RedisStore) Serve(ctx context.Context) error {
	sub := s.rdb.PSubscribe(ctx, s.changeChannel("*"))
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to store changes: %w", err)
	}
	s.readyOnce.Do(func() { close(s.ready) })
	s.watches.pokeAll()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("store change channel closed")
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("panic in store change listener",
							slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
					}
				}()
				s.watches.pokeCollection(strings.TrimPrefix(msg.Channel, s.changeChannel("")))
			}()
		}
	}
}

// Subscribe implements Store.
func (s *RedisStore) Subscribe(ctx context.Context, q Query, fn func(Snapshot, error)) (func(), error) {
	if q.Collection == "" {
		return nil, errors.New("remote: subscribe without collection")
	}
	return s.watches.add(ctx, q, s.Get, fn), nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, q Query) (Snapshot, error) {
	key := s.collectionKey(q.Collection)
	if q.ID != "" {
		raw, err := s.rdb.HGet(ctx, key, q.ID).Bytes()
		if errors.Is(err, redis.Nil) {
			return Snapshot{Query: q}, nil
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("read %s/%s: %w", q.Collection, q.ID, err)
		}
		return Snapshot{Query: q, Records: []Record{{ID: q.ID, Data: raw}}}, nil
	}

	all, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", q.Collection, err)
	}
	records := make(map[string][]byte, len(all))
	for id, v := range all {
		records[id] = []byte(v)
	}
	return runQuery(q, records)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, ops ...Op) error {
	refs := make([]Ref, 0, len(ops))
	for _, op := range ops {
		if err := validateRef(op.Ref); err != nil {
			return err
		}
		refs = append(refs, op.Ref)
	}
	return s.commit(ctx, refs, func(context.Context, *redis.Tx) ([]Op, error) {
		return ops, nil
	})
}

// Transaction implements Store.
func (s *RedisStore) Transaction(ctx context.Context, ref Ref, fn TxFunc) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	return s.commit(ctx, []Ref{ref}, func(ctx context.Context, tx *redis.Tx) ([]Op, error) {
		raw, err := tx.HGet(ctx, s.collectionKey(ref.Collection), ref.ID).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			raw, exists = nil, false
		} else if err != nil {
			return nil, err
		}
		value, err := fn(raw, exists)
		if err != nil || value == nil {
			return nil, err
		}
		return []Op{{Ref: ref, Value: value}}, nil
	})
}

func (s *RedisStore) commit(ctx context.Context, refs []Ref, build func(context.Context, *redis.Tx) ([]Op, error)) error {
	keys := make([]string, 0, len(refs))
	seen := make(map[string]bool)
	for _, ref := range refs {
		k := s.collectionKey(ref.Collection)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for range maxTxAttempts {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			ops, err := build(ctx, tx)
			if err != nil || len(ops) == 0 {
				return err
			}
			return s.applyTx(ctx, tx, ops)
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func (s *RedisStore) applyTx(ctx context.Context, tx *redis.Tx, ops []Op) error {
	pending := make(map[string]*staged)
	order := make([]string, 0, len(ops))
	for _, op := range ops {
		key := recordKey(op.Ref.Collection, op.Ref.ID)
		st, ok := pending[key]
		if !ok {
			st = &staged{ref: op.Ref}
			raw, err := tx.HGet(ctx, s.collectionKey(op.Ref.Collection), op.Ref.ID).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if st.doc, err = parseDocument(raw); err != nil {
					return err
				}
			}
			pending[key] = st
			order = append(order, key)
		}
		doc, err := applyOp(st.doc, op)
		if err != nil {
			return err
		}
		st.doc = doc
	}

	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		touched := make(map[string]bool)
		for _, key := range order {
			st := pending[key]
			hash := s.collectionKey(st.ref.Collection)
			if st.doc == nil {
				pipe.HDel(ctx, hash, st.ref.ID)
			} else {
				raw, err := json.Marshal(st.doc)
				if err != nil {
					return fmt.Errorf("encode record: %w", err)
				}
				pipe.HSet(ctx, hash, st.ref.ID, raw)
			}
			if !touched[st.ref.Collection] {
				touched[st.ref.Collection] = true
				pipe.Publish(ctx, s.changeChannel(st.ref.Collection), st.ref.ID)
			}
		}
		return nil
	})
	return err
}
