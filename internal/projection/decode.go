package projection

import (
	"log/slog"

	"vibesync/internal/observability"
	"vibesync/internal/remote"
)

// DecodeRecords decodes a one-shot query result. Malformed records are
// logged and skipped, the same way subscriptions treat them.
func DecodeRecords[T any, PT remote.Keyed[T]](source string, snap remote.Snapshot) []T {
	items, errs := remote.DecodeAll[T, PT](snap)
	for _, err := range errs {
		observability.GlobalLogger.Warn("skipping malformed record",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
	}
	return items
}
