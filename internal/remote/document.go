package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

func parseDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}

// toGeneric round-trips v through JSON so it can be stored inside a document.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// applyOp returns doc with op applied. A nil result means the record is gone.
func applyOp(doc map[string]any, op Op) (map[string]any, error) {
	if op.Ref.Field == "" {
		switch v := op.Value.(type) {
		case deleteValue:
			return nil, nil
		case incrementValue:
			return nil, fmt.Errorf("increment needs a field: %s/%s", op.Ref.Collection, op.Ref.ID)
		default:
			g, err := toGeneric(v)
			if err != nil {
				return nil, err
			}
			m, ok := g.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("record %s/%s must be an object", op.Ref.Collection, op.Ref.ID)
			}
			return m, nil
		}
	}

	path := strings.Split(op.Ref.Field, ".")
	if _, ok := op.Value.(deleteValue); ok {
		if doc == nil {
			return nil, nil
		}
		parent := walk(doc, path[:len(path)-1], false)
		if parent != nil {
			delete(parent, path[len(path)-1])
		}
		return doc, nil
	}

	if doc == nil {
		doc = map[string]any{}
	}
	parent := walk(doc, path[:len(path)-1], true)
	leaf := path[len(path)-1]

	if inc, ok := op.Value.(incrementValue); ok {
		cur, _ := toInt64(parent[leaf])
		parent[leaf] = json.Number(fmt.Sprint(cur + int64(inc)))
		return doc, nil
	}

	g, err := toGeneric(op.Value)
	if err != nil {
		return nil, err
	}
	parent[leaf] = g
	return doc, nil
}

// walk descends into doc along path. With create set, missing or non-object
// intermediates are replaced by empty objects.
func walk(doc map[string]any, path []string, create bool) map[string]any {
	cur := doc
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			if !create {
				return nil
			}
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur
}

func lookup(doc map[string]any, field string) (any, bool) {
	var cur any = doc
	for _, key := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(math.Round(f)), true
	case float64:
		return int64(math.Round(n)), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func equalValues(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}

type ordered struct {
	rec    Record
	key    int64
	hasKey bool
}

// runQuery evaluates q over every record of one collection.
func runQuery(q Query, records map[string][]byte) (Snapshot, error) {
	snap := Snapshot{Query: q}
	if q.ID != "" {
		if data, ok := records[q.ID]; ok {
			snap.Records = []Record{{ID: q.ID, Data: data}}
		}
		return snap, nil
	}

	rows := make([]ordered, 0, len(records))
	for id, data := range records {
		row := ordered{rec: Record{ID: id, Data: data}}
		if q.OrderBy != "" || len(q.Where) > 0 {
			doc, err := parseDocument(data)
			if err != nil {
				return Snapshot{}, fmt.Errorf("%s/%s: %w", q.Collection, id, err)
			}
			if !matches(doc, q.Where) {
				continue
			}
			if q.OrderBy != "" {
				if v, ok := lookup(doc, q.OrderBy); ok {
					row.key, row.hasKey = toInt64(v)
				}
			}
		}
		rows = append(rows, row)
	}

	slices.SortFunc(rows, func(a, b ordered) int {
		if a.hasKey != b.hasKey {
			if a.hasKey {
				return 1
			}
			return -1
		}
		if a.key != b.key {
			if a.key < b.key {
				return -1
			}
			return 1
		}
		return strings.Compare(a.rec.ID, b.rec.ID)
	})

	if q.OrderBy != "" && q.EndAt != nil {
		end := len(rows)
		for end > 0 && rows[end-1].hasKey && rows[end-1].key > *q.EndAt {
			end--
		}
		rows = rows[:end]
	}
	if q.LimitToLast > 0 && len(rows) > q.LimitToLast {
		rows = rows[len(rows)-q.LimitToLast:]
	}

	snap.Records = make([]Record, len(rows))
	for i, row := range rows {
		snap.Records[i] = row.rec
	}
	return snap, nil
}

func matches(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := lookup(doc, f.Field)
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}
	return true
}
