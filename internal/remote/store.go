// Package remote defines the record store the sync layer runs on, plus
// in-memory, Redis and Firestore implementations of it.
//
// Records are JSON documents addressed by collection path and id. A
// subscription always receives the full result of its query; there are no
// deltas.
package remote

import (
	"context"
	"errors"
)

// ErrContention is returned when an optimistic write kept losing to
// concurrent writers.
var ErrContention = errors.New("remote: too much write contention")

// maxTxAttempts bounds optimistic retries inside a single atomic write.
const maxTxAttempts = 16

// Filter restricts a query to records whose Field equals Value. Field may be a
// dot-separated path into the record.
type Filter struct {
	Field string
	Value any
}

// Query selects records from one collection, or one record when ID is set.
type Query struct {
	Collection string
	ID         string
	// OrderBy names the field results are sorted by, ascending. Ties and
	// records missing the field fall back to id order.
	OrderBy string
	// EndAt is an inclusive upper bound on OrderBy.
	EndAt *int64
	// LimitToLast keeps only the n records with the greatest OrderBy value.
	LimitToLast int
	Where       []Filter
}

// Collection returns a query for every record under path.
func Collection(path string) Query {
	return Query{Collection: path}
}

// RecordQuery returns a query for a single record.
func RecordQuery(path, id string) Query {
	return Query{Collection: path, ID: id}
}

// Latest returns a query for the n most recent records by field.
func Latest(path, field string, n int) Query {
	return Query{Collection: path, OrderBy: field, LimitToLast: n}
}

// Before narrows q to records at or before end.
func (q Query) Before(end int64) Query {
	q.EndAt = &end
	return q
}

// WhereEqual adds an equality filter.
func (q Query) WhereEqual(field string, value any) Query {
	q.Where = append(append([]Filter(nil), q.Where...), Filter{Field: field, Value: value})
	return q
}

// Record is one raw JSON document.
type Record struct {
	ID   string
	Data []byte
}

// Snapshot is the full result of a query at one moment.
type Snapshot struct {
	Query   Query
	Records []Record
}

// Empty reports whether the snapshot holds no records.
func (s Snapshot) Empty() bool { return len(s.Records) == 0 }

// Ref addresses a record, or a field inside it when Field is set.
type Ref struct {
	Collection string
	ID         string
	Field      string
}

// At returns a reference to the record id under collection.
func At(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Child returns a reference to a dot-separated field of the record.
func (r Ref) Child(field string) Ref {
	if r.Field != "" {
		field = r.Field + "." + field
	}
	r.Field = field
	return r
}

// Op is one write in an atomic update. Value may be any JSON-encodable value,
// Increment(n), or Delete.
type Op struct {
	Ref   Ref
	Value any
}

// Set returns an op that writes value at ref.
func Set(ref Ref, value any) Op { return Op{Ref: ref, Value: value} }

// Remove returns an op that deletes the record or field at ref.
func Remove(ref Ref) Op { return Op{Ref: ref, Value: Delete} }

// Add returns an op that adds n to the numeric field at ref.
func Add(ref Ref, n int64) Op { return Op{Ref: ref, Value: Increment(n)} }

type incrementValue int64

// Increment is an op value that atomically adds n to a numeric field. A
// missing field counts as zero.
func Increment(n int64) any { return incrementValue(n) }

type deleteValue struct{}

// Delete is an op value that removes a record or field.
var Delete any = deleteValue{}

// TxFunc receives the current record and returns the value to store. Returning
// a nil value leaves the record unchanged.
type TxFunc func(current []byte, exists bool) (any, error)

// Store is the realtime record store contract.
type Store interface {
	// Subscribe delivers the query result once promptly and again after every
	// change to the collection, in order, until cancel is called or ctx ends.
	Subscribe(ctx context.Context, q Query, fn func(Snapshot, error)) (cancel func(), err error)
	// Get runs q once.
	Get(ctx context.Context, q Query) (Snapshot, error)
	// Update applies every op atomically.
	Update(ctx context.Context, ops ...Op) error
	// Transaction runs fn against the current value of a record and stores
	// its result, retrying when the record changed underneath it.
	Transaction(ctx context.Context, ref Ref, fn TxFunc) error
}

// Uploader stores binary media and returns a stable URL for it.
type Uploader interface {
	Upload(ctx context.Context, data []byte, hint string) (string, error)
}
