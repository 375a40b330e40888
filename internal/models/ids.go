// Package models contains the record types shared by the store, the
// projectors and the write services.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new insertion-ordered record id.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}

// NowMillis returns the current time as Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// IDSet is a membership set stored as an object of id -> true.
type IDSet map[string]bool

// NewIDSet builds a set from the given ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// Has reports whether id is a member. A nil set has no members.
func (s IDSet) Has(id string) bool {
	return s != nil && s[id]
}

// Len returns the number of members.
func (s IDSet) Len() int {
	n := 0
	for _, ok := range s {
		if ok {
			n++
		}
	}
	return n
}

// Keys returns the members in ascending order.
func (s IDSet) Keys() []string {
	out := make([]string, 0, len(s))
	for id, ok := range s {
		if ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns a copy that can be mutated independently.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id, ok := range s {
		if ok {
			out[id] = true
		}
	}
	return out
}
