package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. It backs tests and the memory backend
// used for local development.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]map[string][]byte
	revs    map[string]uint64
	watches *watchSet
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]map[string][]byte),
		revs:    make(map[string]uint64),
		watches: newWatchSet(),
	}
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(ctx context.Context, q Query, fn func(Snapshot, error)) (func(), error) {
	if q.Collection == "" {
		return nil, errors.New("remote: subscribe without collection")
	}
	return s.watches.add(ctx, q, s.Get, fn), nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, q Query) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return runQuery(q, s.data[q.Collection])
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, ops ...Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	touched, err := s.applyLocked(ops)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for path := range touched {
		s.watches.pokeCollection(path)
	}
	return nil
}

// Transaction implements Store.
func (s *MemoryStore) Transaction(ctx context.Context, ref Ref, fn TxFunc) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	key := recordKey(ref.Collection, ref.ID)
	for range maxTxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		current, exists := s.data[ref.Collection][ref.ID]
		rev := s.revs[key]
		s.mu.RUnlock()

		value, err := fn(current, exists)
		if err != nil {
			return err
		}
		if value == nil {
			return nil
		}

		s.mu.Lock()
		if s.revs[key] != rev {
			s.mu.Unlock()
			continue
		}
		_, err = s.applyLocked([]Op{{Ref: Ref{Collection: ref.Collection, ID: ref.ID, Field: ref.Field}, Value: value}})
		s.mu.Unlock()
		if err != nil {
			return err
		}
		s.watches.pokeCollection(ref.Collection)
		return nil
	}
	return ErrContention
}

// Subscriptions returns the number of live subscriptions.
func (s *MemoryStore) Subscriptions() int {
	return s.watches.count()
}

type staged struct {
	ref Ref
	doc map[string]any
}

func (s *MemoryStore) applyLocked(ops []Op) (map[string]struct{}, error) {
	pending := make(map[string]*staged)
	order := make([]string, 0, len(ops))
	for _, op := range ops {
		if err := validateRef(op.Ref); err != nil {
			return nil, err
		}
		key := recordKey(op.Ref.Collection, op.Ref.ID)
		st, ok := pending[key]
		if !ok {
			st = &staged{ref: op.Ref}
			if data, found := s.data[op.Ref.Collection][op.Ref.ID]; found {
				doc, err := parseDocument(data)
				if err != nil {
					return nil, err
				}
				st.doc = doc
			}
			pending[key] = st
			order = append(order, key)
		}
		doc, err := applyOp(st.doc, op)
		if err != nil {
			return nil, err
		}
		st.doc = doc
	}

	encoded := make(map[string][]byte, len(pending))
	for key, st := range pending {
		if st.doc == nil {
			continue
		}
		raw, err := json.Marshal(st.doc)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		encoded[key] = raw
	}

	touched := make(map[string]struct{})
	for _, key := range order {
		st := pending[key]
		col := st.ref.Collection
		if raw, ok := encoded[key]; ok {
			if s.data[col] == nil {
				s.data[col] = make(map[string][]byte)
			}
			s.data[col][st.ref.ID] = raw
		} else {
			delete(s.data[col], st.ref.ID)
		}
		s.revs[key]++
		touched[col] = struct{}{}
	}
	return touched, nil
}

func recordKey(collection, id string) string {
	return collection + "\x00" + id
}

func validateRef(ref Ref) error {
	if ref.Collection == "" || ref.ID == "" {
		return fmt.Errorf("remote: incomplete reference %q/%q", ref.Collection, ref.ID)
	}
	return nil
}
