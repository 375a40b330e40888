package service

import (
	"context"
	"log/slog"
	"strings"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/remote"
	"vibesync/internal/repository"
)

// ModerationService applies admin actions and keeps an audit trail of them.
// Banning a user flips is_banned on the profile; live sessions of that user
// observe it and sign out.
type ModerationService struct {
	w     storeWriter
	posts *PostService
	audit repository.AuditRepository
}

func NewModerationService(store remote.Store, posts *PostService, audit repository.AuditRepository) *ModerationService {
	return &ModerationService{w: newStoreWriter(store, "moderation_service"), posts: posts, audit: audit}
}

func (s *ModerationService) BanUser(ctx context.Context, adminID, targetID, reason string) error {
	return s.setBanned(ctx, adminID, targetID, reason, true)
}

func (s *ModerationService) UnbanUser(ctx context.Context, adminID, targetID, reason string) error {
	return s.setBanned(ctx, adminID, targetID, reason, false)
}

func (s *ModerationService) setBanned(ctx context.Context, adminID, targetID, reason string, banned bool) error {
	span, ctx := observability.StartServiceSpan(ctx, "ModerationService", "SetBanned")
	defer span.End()

	if _, err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	if adminID == targetID {
		return models.NewValidationError("Cannot moderate yourself")
	}
	target, err := loadUser(ctx, s.w.store, targetID)
	if err != nil {
		return err
	}
	if target.IsAdmin() {
		return models.NewForbiddenError("Cannot moderate another admin")
	}

	action := models.AuditUnbanUser
	if banned {
		action = models.AuditBanUser
	}
	if target.IsBanned != banned {
		if err := s.w.update(ctx, action, map[string]interface{}{"target_id": targetID},
			remote.Set(userRef(targetID).Child("is_banned"), banned)); err != nil {
			span.SetError(err)
			return err
		}
	}
	s.record(ctx, adminID, action, targetID, reason)
	return nil
}

// DeletePost removes any post as an admin.
func (s *ModerationService) DeletePost(ctx context.Context, adminID, postID, reason string) error {
	if _, err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	if err := s.posts.DeletePost(ctx, adminID, postID); err != nil {
		return err
	}
	s.record(ctx, adminID, models.AuditDeletePost, postID, reason)
	return nil
}

// ListAudit returns recent moderation actions, newest first. A non-empty
// targetID narrows the list to one target.
func (s *ModerationService) ListAudit(ctx context.Context, adminID, targetID string, limit int) ([]models.ModerationAudit, error) {
	if _, err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if targetID != "" {
		return s.audit.ListByTarget(ctx, targetID, limit)
	}
	return s.audit.ListRecent(ctx, limit)
}

func (s *ModerationService) requireAdmin(ctx context.Context, adminID string) (models.User, error) {
	admin, err := loadActor(ctx, s.w.store, adminID)
	if err != nil {
		return models.User{}, err
	}
	if !admin.IsAdmin() {
		return models.User{}, models.NewForbiddenError("Admin access required")
	}
	return admin, nil
}

// record writes the audit row. The store write already happened, so a failed
// audit insert is logged rather than returned.
func (s *ModerationService) record(ctx context.Context, actorID, action, targetID, reason string) {
	entry := &models.ModerationAudit{
		ActorID:  actorID,
		Action:   action,
		TargetID: targetID,
		Reason:   strings.TrimSpace(reason),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to record moderation audit",
			slog.String("action", action),
			slog.String("target_id", targetID),
			slog.String("error", err.Error()),
		)
	}
}
