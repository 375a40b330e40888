package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
)

// itemsSegment completes collection paths that would otherwise end on a
// document: comments/<postID> is stored as comments/<postID>/items.
const itemsSegment = "items"

// FirestoreStore runs the Store contract on Cloud Firestore. Subscriptions
// use Firestore query snapshots; atomic updates run in a Firestore
// transaction.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore opens the Firestore client of a Firebase app.
func NewFirestoreStore(ctx context.Context, app *firebase.App) (*FirestoreStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open firestore: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// firestorePath maps a collection path onto a Firestore collection path,
// which must have an odd number of segments.
func firestorePath(path string) string {
	if strings.Count(path, "/")%2 == 1 {
		return path + "/" + itemsSegment
	}
	return path
}

func (s *FirestoreStore) collection(path string) *firestore.CollectionRef {
	return s.client.Collection(firestorePath(path))
}

func (s *FirestoreStore) query(q Query) firestore.Query {
	fq := s.collection(q.Collection).Query
	for _, f := range q.Where {
		fq = fq.Where(f.Field, "==", f.Value)
	}
	if q.OrderBy != "" {
		fq = fq.OrderBy(q.OrderBy, firestore.Asc)
		if q.EndAt != nil {
			fq = fq.EndAt(*q.EndAt)
		}
	} else {
		fq = fq.OrderBy(firestore.DocumentID, firestore.Asc)
	}
	if q.LimitToLast > 0 {
		fq = fq.LimitToLast(q.LimitToLast)
	}
	return fq
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, q Query) (Snapshot, error) {
	if q.ID != "" {
		doc, err := s.collection(q.Collection).Doc(q.ID).Get(ctx)
		if doc != nil && !doc.Exists() {
			return Snapshot{Query: q}, nil
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("read %s/%s: %w", q.Collection, q.ID, err)
		}
		rec, err := recordOf(doc)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Query: q, Records: []Record{rec}}, nil
	}

	docs, err := s.query(q).Documents(ctx).GetAll()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", q.Collection, err)
	}
	return snapshotOf(q, docs)
}

// Subscribe implements Store.
func (s *FirestoreStore) Subscribe(ctx context.Context, q Query, fn func(Snapshot, error)) (func(), error) {
	if q.Collection == "" {
		return nil, errors.New("remote: subscribe without collection")
	}
	sctx, cancel := context.WithCancel(ctx)

	if q.ID != "" {
		it := s.collection(q.Collection).Doc(q.ID).Snapshots(sctx)
		go func() {
			defer it.Stop()
			for {
				doc, err := it.Next()
				if sctx.Err() != nil {
					return
				}
				if err != nil {
					fn(Snapshot{}, err)
					return
				}
				snap := Snapshot{Query: q}
				if doc.Exists() {
					rec, err := recordOf(doc)
					if err != nil {
						fn(Snapshot{}, err)
						continue
					}
					snap.Records = []Record{rec}
				}
				fn(snap, nil)
			}
		}()
		return cancel, nil
	}

	it := s.query(q).Snapshots(sctx)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if sctx.Err() != nil {
				return
			}
			if err != nil {
				fn(Snapshot{}, err)
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				fn(Snapshot{}, err)
				continue
			}
			fn(snapshotOf(q, docs))
		}
	}()
	return cancel, nil
}

// Update implements Store.
func (s *FirestoreStore) Update(ctx context.Context, ops ...Op) error {
	for _, op := range ops {
		if err := validateRef(op.Ref); err != nil {
			return err
		}
	}
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, op := range ops {
			if err := s.write(tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transaction implements Store.
func (s *FirestoreStore) Transaction(ctx context.Context, ref Ref, fn TxFunc) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	docRef := s.collection(ref.Collection).Doc(ref.ID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil && (doc == nil || doc.Exists()) {
			return err
		}
		var current []byte
		exists := doc != nil && doc.Exists()
		if exists {
			rec, err := recordOf(doc)
			if err != nil {
				return err
			}
			current = rec.Data
		}
		value, err := fn(current, exists)
		if err != nil || value == nil {
			return err
		}
		return s.write(tx, Op{Ref: ref, Value: value})
	})
}

func (s *FirestoreStore) write(tx *firestore.Transaction, op Op) error {
	doc := s.collection(op.Ref.Collection).Doc(op.Ref.ID)
	value, err := firestoreValue(op.Value)
	if err != nil {
		return err
	}
	if op.Ref.Field == "" {
		if op.Value == Delete {
			return tx.Delete(doc)
		}
		fields, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("record %s/%s must be an object", op.Ref.Collection, op.Ref.ID)
		}
		return tx.Set(doc, fields)
	}
	return tx.Set(doc, nestField(op.Ref.Field, value), firestore.MergeAll)
}

// firestoreValue converts an op value into what the Firestore client
// accepts: transforms become sentinels and JSON numbers become int64 or
// float64.
func firestoreValue(v any) (any, error) {
	switch t := v.(type) {
	case deleteValue:
		return firestore.Delete, nil
	case incrementValue:
		return firestore.Increment(int64(t)), nil
	}
	g, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return normalizeNumbers(g), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	}
	return v
}

// nestField expands "a.b.c" = v into {"a": {"b": {"c": v}}} for merge writes.
func nestField(field string, v any) map[string]any {
	parts := strings.Split(field, ".")
	out := map[string]any{parts[len(parts)-1]: v}
	for i := len(parts) - 2; i >= 0; i-- {
		out = map[string]any{parts[i]: out}
	}
	return out
}

func recordOf(doc *firestore.DocumentSnapshot) (Record, error) {
	raw, err := json.Marshal(doc.Data())
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", doc.Ref.ID, err)
	}
	return Record{ID: doc.Ref.ID, Data: raw}, nil
}

func snapshotOf(q Query, docs []*firestore.DocumentSnapshot) (Snapshot, error) {
	snap := Snapshot{Query: q, Records: make([]Record, 0, len(docs))}
	for _, doc := range docs {
		rec, err := recordOf(doc)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}
