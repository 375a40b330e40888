package remote

import (
	"encoding/json"
	"fmt"
)

// Keyed is implemented by record types that learn their id from the record key.
type Keyed[T any] interface {
	*T
	SetID(string)
}

// DecodeAll decodes every record of snap in order. Records that fail to
// decode are skipped and reported in errs.
func DecodeAll[T any, PT Keyed[T]](snap Snapshot) (items []T, errs []error) {
	items = make([]T, 0, len(snap.Records))
	for _, rec := range snap.Records {
		item, err := DecodeRecord[T, PT](rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	return items, errs
}

// DecodeRecord decodes one record and stamps its id.
func DecodeRecord[T any, PT Keyed[T]](rec Record) (T, error) {
	var item T
	if err := json.Unmarshal(rec.Data, &item); err != nil {
		return item, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	PT(&item).SetID(rec.ID)
	return item, nil
}

// DecodeOne decodes the single record of a record query.
func DecodeOne[T any, PT Keyed[T]](snap Snapshot) (item T, exists bool, err error) {
	if snap.Empty() {
		return item, false, nil
	}
	item, err = DecodeRecord[T, PT](snap.Records[0])
	return item, err == nil, err
}
