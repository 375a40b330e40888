// Package seed provides helpers to create demo data in the remote store.
// These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"strings"

	"vibesync/internal/models"
	"vibesync/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

const maxHandleBase = 14

// Factory builds service inputs filled with fake content. It never writes;
// the Seeder sends what it builds through the services.
type Factory struct {
	faker *gofakeit.Faker
}

// NewFactory creates a factory. A zero seed picks a random one.
func NewFactory(seed int64) *Factory {
	return &Factory{faker: gofakeit.New(seed)}
}

// Profile builds the profile of the n-th seeded user. Handles embed n so
// they are unique within a run.
func (f *Factory) Profile(userID string, n int, overrides ...func(*service.CompleteProfileInput)) service.CompleteProfileInput {
	first, last := f.faker.FirstName(), f.faker.LastName()
	public := f.faker.Number(0, 9) < 8
	in := service.CompleteProfileInput{
		UserID:      userID,
		DisplayName: first + " " + last,
		Handle:      Handle(first, n),
		Bio:         f.faker.Sentence(f.faker.Number(4, 12)),
		IsPublic:    &public,
	}
	for _, o := range overrides {
		o(&in)
	}
	return in
}

// Post builds a text post for owner with a random privacy.
func (f *Factory) Post(ownerID string, overrides ...func(*service.CreatePostInput)) service.CreatePostInput {
	privacies := []models.Privacy{models.PrivacyPublic, models.PrivacyPublic, models.PrivacyFriends, models.PrivacyPrivate}
	in := service.CreatePostInput{
		OwnerID:          ownerID,
		Content:          f.faker.Paragraph(1, f.faker.Number(1, 4), 12, "\n"),
		Privacy:          privacies[f.faker.Number(0, len(privacies)-1)],
		CommentsDisabled: f.faker.Number(0, 19) == 0,
	}
	for _, o := range overrides {
		o(&in)
	}
	return in
}

// Comment returns comment text, sometimes mentioning a handle.
func (f *Factory) Comment(mention string) string {
	text := f.faker.Sentence(f.faker.Number(3, 15))
	if mention != "" && f.faker.Bool() {
		text = "@" + mention + " " + text
	}
	return text
}

// Message returns chat text.
func (f *Factory) Message() string {
	return f.faker.HipsterSentence(f.faker.Number(2, 10))
}

// Intn returns a number in [0, n).
func (f *Factory) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	return f.faker.Number(0, n-1)
}

// Handle derives a valid handle from a display name and a run-unique n.
func Handle(name string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == maxHandleBase {
			break
		}
	}
	base := b.String()
	if base == "" {
		base = "user"
	}
	return fmt.Sprintf("%s_%d", base, n)
}
