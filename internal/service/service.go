// Package service holds the write side of the app. Services validate input,
// check permissions against the actor's profile and apply atomic store
// updates; sessions observe the results through their subscriptions.
package service

import (
	"context"
	"errors"
	"fmt"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/projection"
	"vibesync/internal/remote"
)

// storeWriter wraps store writes with logging and error mapping.
type storeWriter struct {
	store remote.Store
	log   *observability.StoreLogger
}

func newStoreWriter(store remote.Store, service string) storeWriter {
	return storeWriter{store: store, log: observability.NewStoreLogger(service)}
}

func (w storeWriter) update(ctx context.Context, operation string, fields map[string]interface{}, ops ...remote.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := w.store.Update(ctx, ops...); err != nil {
		w.log.LogError(ctx, err, operation)
		return models.NewWriteError(operation, err)
	}
	w.log.LogWrite(ctx, operation, fields)
	return nil
}

// transact runs a record transaction. AppErrors returned by fn reach the
// caller unchanged.
func (w storeWriter) transact(ctx context.Context, operation string, ref remote.Ref, fn remote.TxFunc) error {
	err := w.store.Transaction(ctx, ref, fn)
	if err == nil {
		w.log.LogWrite(ctx, operation, map[string]interface{}{"collection": ref.Collection, "id": ref.ID})
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	w.log.LogError(ctx, err, operation)
	return models.NewWriteError(operation, err)
}

func getRecord[T any, PT remote.Keyed[T]](ctx context.Context, store remote.Store, collection, id string) (T, bool, error) {
	var zero T
	if id == "" {
		return zero, false, nil
	}
	snap, err := store.Get(ctx, remote.RecordQuery(collection, id))
	if err != nil {
		return zero, false, models.NewInternalError(fmt.Errorf("read %s/%s: %w", collection, id, err))
	}
	item, exists, err := remote.DecodeOne[T, PT](snap)
	if err != nil {
		return zero, false, models.NewInternalError(err)
	}
	return item, exists, nil
}

func listRecords[T any, PT remote.Keyed[T]](ctx context.Context, store remote.Store, q remote.Query) ([]T, error) {
	snap, err := store.Get(ctx, q)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("read %s: %w", q.Collection, err))
	}
	return projection.DecodeRecords[T, PT](q.Collection, snap), nil
}

func loadUser(ctx context.Context, store remote.Store, id string) (models.User, error) {
	u, ok, err := getRecord[models.User](ctx, store, models.CollectionUsers, id)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, models.NewNotFoundError("User", id)
	}
	return u, nil
}

// loadActor returns the profile of the user performing a write. Missing,
// incomplete and banned profiles may not write.
func loadActor(ctx context.Context, store remote.Store, id string) (models.User, error) {
	if id == "" {
		return models.User{}, models.NewUnauthorizedError("Sign in required")
	}
	u, ok, err := getRecord[models.User](ctx, store, models.CollectionUsers, id)
	if err != nil {
		return models.User{}, err
	}
	if !ok || !u.IsComplete() {
		return models.User{}, models.NewForbiddenError("Complete your profile first")
	}
	if u.IsBanned {
		return models.User{}, models.NewForbiddenError("Account is banned")
	}
	return u, nil
}

func notificationOps(recipients []string, n models.Notification) []remote.Op {
	ops := make([]remote.Op, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if r == "" || r == n.SenderID || seen[r] {
			continue
		}
		seen[r] = true
		out := n
		out.ID = models.NewID()
		out.RecipientID = r
		ops = append(ops, remote.Set(remote.At(models.NotificationsPath(r), out.ID), out))
	}
	return ops
}

func userRef(id string) remote.Ref { return remote.At(models.CollectionUsers, id) }

func postRef(id string) remote.Ref { return remote.At(models.CollectionPosts, id) }
