package service

import (
	"context"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/remote"
)

// FriendService manages friend requests, friendships and blocks. A
// friendship is stored on both profiles; a pending request is a record at
// friend_requests/<recipient>/<sender>.
type FriendService struct {
	w storeWriter
}

func NewFriendService(store remote.Store) *FriendService {
	return &FriendService{w: newStoreWriter(store, "friend_service")}
}

// SendRequest asks recipientID to become friends. When recipientID already
// asked the sender, the pending request is accepted instead. Sending twice is
// a no-op.
func (s *FriendService) SendRequest(ctx context.Context, senderID, recipientID string) error {
	span, ctx := observability.StartServiceSpan(ctx, "FriendService", "SendRequest")
	defer span.End()

	if senderID == recipientID {
		return models.NewValidationError("Cannot send friend request to yourself")
	}
	sender, err := loadActor(ctx, s.w.store, senderID)
	if err != nil {
		return err
	}
	recipient, err := loadUser(ctx, s.w.store, recipientID)
	if err != nil {
		return err
	}
	if sender.Blocked.Has(recipientID) || recipient.Blocked.Has(senderID) {
		return models.NewForbiddenError("Cannot send friend request to this user")
	}
	if sender.Friends.Has(recipientID) {
		return models.NewValidationError("Already friends")
	}

	reverse, err := s.pending(ctx, recipientID, senderID)
	if err != nil {
		return err
	}
	if reverse {
		return s.AcceptRequest(ctx, senderID, recipientID)
	}
	existing, err := s.pending(ctx, senderID, recipientID)
	if err != nil || existing {
		return err
	}

	now := models.NowMillis()
	ops := []remote.Op{remote.Set(remote.At(models.FriendRequestsPath(recipientID), senderID), models.FriendRequest{
		SenderID:  senderID,
		CreatedAt: now,
	})}
	ops = append(ops, notificationOps([]string{recipientID}, models.Notification{
		SenderID:  senderID,
		Kind:      models.NotificationFriendRequest,
		CreatedAt: now,
	})...)
	if err := s.w.update(ctx, "send friend request", map[string]interface{}{"recipient_id": recipientID}, ops...); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// AcceptRequest accepts the request senderID sent to recipientID. Accepting a
// request between users who are already friends succeeds without writing.
func (s *FriendService) AcceptRequest(ctx context.Context, recipientID, senderID string) error {
	span, ctx := observability.StartServiceSpan(ctx, "FriendService", "AcceptRequest")
	defer span.End()

	recipient, err := loadActor(ctx, s.w.store, recipientID)
	if err != nil {
		return err
	}
	if recipient.Friends.Has(senderID) {
		return nil
	}
	ok, err := s.pending(ctx, senderID, recipientID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewNotFoundError("Friend request", senderID)
	}
	sender, err := loadUser(ctx, s.w.store, senderID)
	if err != nil {
		return err
	}
	if sender.Blocked.Has(recipientID) || recipient.Blocked.Has(senderID) {
		return models.NewForbiddenError("Cannot accept this friend request")
	}

	ops := []remote.Op{
		remote.Set(userRef(recipientID).Child("friends").Child(senderID), true),
		remote.Set(userRef(senderID).Child("friends").Child(recipientID), true),
		remote.Remove(remote.At(models.FriendRequestsPath(recipientID), senderID)),
		remote.Remove(remote.At(models.FriendRequestsPath(senderID), recipientID)),
	}
	ops = append(ops, notificationOps([]string{senderID}, models.Notification{
		SenderID:  recipientID,
		Kind:      models.NotificationFriendAccept,
		CreatedAt: models.NowMillis(),
	})...)
	if err := s.w.update(ctx, "accept friend request", map[string]interface{}{"sender_id": senderID}, ops...); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// RejectRequest drops the request senderID sent to recipientID.
func (s *FriendService) RejectRequest(ctx context.Context, recipientID, senderID string) error {
	return s.dropRequest(ctx, "reject friend request", senderID, recipientID)
}

// CancelRequest withdraws the request senderID sent to recipientID.
func (s *FriendService) CancelRequest(ctx context.Context, senderID, recipientID string) error {
	return s.dropRequest(ctx, "cancel friend request", senderID, recipientID)
}

func (s *FriendService) dropRequest(ctx context.Context, operation, senderID, recipientID string) error {
	ok, err := s.pending(ctx, senderID, recipientID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewNotFoundError("Friend request", senderID)
	}
	return s.w.update(ctx, operation, map[string]interface{}{"sender_id": senderID, "recipient_id": recipientID},
		remote.Remove(remote.At(models.FriendRequestsPath(recipientID), senderID)))
}

// ListIncoming returns the requests pending for recipientID, oldest first.
func (s *FriendService) ListIncoming(ctx context.Context, recipientID string) ([]models.FriendRequest, error) {
	return listRecords[models.FriendRequest](ctx, s.w.store,
		remote.Query{Collection: models.FriendRequestsPath(recipientID), OrderBy: models.FieldCreatedAt})
}

// RemoveFriend ends a friendship on both sides.
func (s *FriendService) RemoveFriend(ctx context.Context, actorID, friendID string) error {
	actor, err := loadActor(ctx, s.w.store, actorID)
	if err != nil {
		return err
	}
	if !actor.Friends.Has(friendID) {
		return models.NewNotFoundError("Friendship", friendID)
	}
	return s.w.update(ctx, "remove friend", map[string]interface{}{"friend_id": friendID},
		remote.Remove(userRef(actorID).Child("friends").Child(friendID)),
		remote.Remove(userRef(friendID).Child("friends").Child(actorID)),
	)
}

// Block hides targetID from the actor. It also ends any friendship and drops
// pending requests in both directions.
func (s *FriendService) Block(ctx context.Context, actorID, targetID string) error {
	span, ctx := observability.StartServiceSpan(ctx, "FriendService", "Block")
	defer span.End()

	if actorID == targetID {
		return models.NewValidationError("Cannot block yourself")
	}
	actor, err := loadActor(ctx, s.w.store, actorID)
	if err != nil {
		return err
	}
	if _, err := loadUser(ctx, s.w.store, targetID); err != nil {
		return err
	}
	if actor.Blocked.Has(targetID) {
		return nil
	}

	ops := []remote.Op{remote.Set(userRef(actorID).Child("blocked").Child(targetID), true)}
	if actor.Friends.Has(targetID) {
		ops = append(ops,
			remote.Remove(userRef(actorID).Child("friends").Child(targetID)),
			remote.Remove(userRef(targetID).Child("friends").Child(actorID)),
		)
	}
	for _, pair := range [][2]string{{actorID, targetID}, {targetID, actorID}} {
		ok, err := s.pending(ctx, pair[0], pair[1])
		if err != nil {
			return err
		}
		if ok {
			ops = append(ops, remote.Remove(remote.At(models.FriendRequestsPath(pair[1]), pair[0])))
		}
	}
	if err := s.w.update(ctx, "block user", map[string]interface{}{"target_id": targetID}, ops...); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

func (s *FriendService) Unblock(ctx context.Context, actorID, targetID string) error {
	actor, err := loadActor(ctx, s.w.store, actorID)
	if err != nil {
		return err
	}
	if !actor.Blocked.Has(targetID) {
		return nil
	}
	return s.w.update(ctx, "unblock user", map[string]interface{}{"target_id": targetID},
		remote.Remove(userRef(actorID).Child("blocked").Child(targetID)))
}

func (s *FriendService) pending(ctx context.Context, senderID, recipientID string) (bool, error) {
	_, ok, err := getRecord[models.FriendRequest](ctx, s.w.store, models.FriendRequestsPath(recipientID), senderID)
	return ok, err
}
