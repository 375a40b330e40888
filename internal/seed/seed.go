package seed

import (
	"context"
	"fmt"
	"log/slog"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/service"
)

// Services are the writers the seeder goes through, so seeded data obeys the
// same rules as user writes.
type Services struct {
	Profiles *service.ProfileService
	Friends  *service.FriendService
	Posts    *service.PostService
	Comments *service.CommentService
	Chat     *service.ChatService
}

// Options sizes a seeding run.
type Options struct {
	NumUsers int
	NumPosts int
	// FriendsPerUser is the number of friend requests each user sends.
	FriendsPerUser int
	// CommentsPerPost is the upper bound of comments on one post.
	CommentsPerPost int
}

// Result lists what a run created.
type Result struct {
	Users         []models.User
	Posts         []models.Post
	Friendships   int
	Comments      int
	Reactions     int
	Conversations int
	Messages      int
}

// Seeder populates the store through the services.
type Seeder struct {
	svc     Services
	factory *Factory
	log     *slog.Logger
}

// NewSeeder creates a seeder. A non-zero seed makes the run reproducible.
func NewSeeder(svc Services, seed int64) *Seeder {
	return &Seeder{svc: svc, factory: NewFactory(seed), log: observability.GlobalLogger.Logger}
}

// Run seeds a social mesh and engagement on top of it.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}
	users, err := s.SeedUsers(ctx, opts.NumUsers)
	if err != nil {
		return res, err
	}
	res.Users = users
	s.log.Info("users seeded", slog.Int("count", len(users)))

	if res.Friendships, err = s.SeedFriendships(ctx, users, opts.FriendsPerUser); err != nil {
		return res, err
	}
	s.log.Info("friendships seeded", slog.Int("count", res.Friendships))

	if err := s.SeedEngagement(ctx, res, opts.NumPosts, opts.CommentsPerPost); err != nil {
		return res, err
	}
	if err := s.SeedConversations(ctx, res); err != nil {
		return res, err
	}
	s.log.Info("seeding completed",
		slog.Int("posts", len(res.Posts)),
		slog.Int("comments", res.Comments),
		slog.Int("reactions", res.Reactions),
		slog.Int("conversations", res.Conversations),
		slog.Int("messages", res.Messages),
	)
	return res, nil
}

// SeedUsers completes n profiles with ULID ids.
func (s *Seeder) SeedUsers(ctx context.Context, n int) ([]models.User, error) {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		u, err := s.svc.Profiles.CompleteProfile(ctx, s.factory.Profile(models.NewID(), i))
		if err != nil {
			return users, fmt.Errorf("seed user %d: %w", i, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// SeedFriendships has every user send up to perUser requests to later users;
// most are accepted, the rest stay pending. Requests only go forward so two
// users never cross requests.
func (s *Seeder) SeedFriendships(ctx context.Context, users []models.User, perUser int) (int, error) {
	accepted := 0
	for i, sender := range users {
		for k := 1; k <= perUser && i+k < len(users); k++ {
			recipient := users[i+k+s.factory.Intn(len(users)-i-k)]
			if err := s.svc.Friends.SendRequest(ctx, sender.ID, recipient.ID); err != nil {
				// Duplicates and already-friends are expected with random picks.
				if models.IsCode(err, models.CodeValidation) {
					continue
				}
				return accepted, fmt.Errorf("friend request %s -> %s: %w", sender.ID, recipient.ID, err)
			}
			if s.factory.Intn(5) == 0 {
				continue
			}
			if err := s.svc.Friends.AcceptRequest(ctx, recipient.ID, sender.ID); err != nil {
				return accepted, fmt.Errorf("accept %s -> %s: %w", sender.ID, recipient.ID, err)
			}
			accepted++
		}
	}
	return accepted, nil
}

// SeedEngagement creates posts and, on the ones other users can see,
// comments, replies and likes.
func (s *Seeder) SeedEngagement(ctx context.Context, res *Result, numPosts, commentsPerPost int) error {
	users := res.Users
	if len(users) == 0 {
		return nil
	}
	for i := 0; i < numPosts; i++ {
		owner := users[s.factory.Intn(len(users))]
		post, err := s.svc.Posts.CreatePost(ctx, s.factory.Post(owner.ID))
		if err != nil {
			return fmt.Errorf("seed post %d: %w", i, err)
		}
		res.Posts = append(res.Posts, post)

		if post.ResolvedPrivacy() == models.PrivacyPrivate || post.CommentsDisabled {
			continue
		}
		var rootID string
		for c := s.factory.Intn(commentsPerPost + 1); c > 0; c-- {
			author := users[s.factory.Intn(len(users))]
			in := service.CreateCommentInput{
				AuthorID: author.ID,
				PostID:   post.ID,
				Content:  s.factory.Comment(owner.Handle),
			}
			if rootID != "" && s.factory.Intn(3) == 0 {
				in.ParentID, in.RootID = rootID, rootID
			}
			comment, _, err := s.svc.Comments.CreateComment(ctx, in)
			if err != nil {
				// Authors that cannot see the post are skipped.
				if models.IsCode(err, models.CodeNotFound) || models.IsCode(err, models.CodeForbidden) {
					continue
				}
				return fmt.Errorf("seed comment on %s: %w", post.ID, err)
			}
			if comment.IsTopLevel() {
				rootID = comment.ID
			}
			res.Comments++
		}

		for l := s.factory.Intn(len(users)); l > 0; l-- {
			liker := users[s.factory.Intn(len(users))]
			on, err := s.svc.Posts.ToggleReaction(ctx, liker.ID, post.ID, models.ReactionLike)
			if err != nil {
				if models.IsCode(err, models.CodeNotFound) {
					continue
				}
				return fmt.Errorf("seed like on %s: %w", post.ID, err)
			}
			if on {
				res.Reactions++
			} else {
				res.Reactions--
			}
		}
	}
	return nil
}

// SeedConversations opens a conversation for some friend pairs and posts a
// few messages in it.
func (s *Seeder) SeedConversations(ctx context.Context, res *Result) error {
	for _, u := range res.Users {
		current, err := s.svc.Profiles.GetProfile(ctx, u.ID, u.ID)
		if err != nil {
			return fmt.Errorf("reload %s: %w", u.ID, err)
		}
		for _, friendID := range current.Friends.Keys() {
			if friendID < u.ID || s.factory.Intn(2) == 0 {
				continue
			}
			conv, err := s.svc.Chat.GetOrCreateConversation(ctx, u.ID, friendID)
			if err != nil {
				return fmt.Errorf("open conversation %s/%s: %w", u.ID, friendID, err)
			}
			res.Conversations++
			members := []string{u.ID, friendID}
			for m := s.factory.Intn(6) + 1; m > 0; m-- {
				if _, err := s.svc.Chat.SendMessage(ctx, service.SendMessageInput{
					SenderID:       members[s.factory.Intn(2)],
					ConversationID: conv.ID,
					Text:           s.factory.Message(),
				}); err != nil {
					return fmt.Errorf("send message in %s: %w", conv.ID, err)
				}
				res.Messages++
			}
		}
	}
	return nil
}
