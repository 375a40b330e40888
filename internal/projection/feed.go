package projection

import (
	"cmp"
	"context"
	"slices"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/privacy"
	"vibesync/internal/remote"
)

// DefaultFeedPageSize is the number of visible posts one page aims for.
const DefaultFeedPageSize = 25

// FeedItem is one rendered post.
type FeedItem struct {
	Post          models.Post  `json:"post"`
	Author        *models.User `json:"author,omitempty"`
	ReactionCount int          `json:"reaction_count"`
	Liked         bool         `json:"liked"`
	Bookmarked    bool         `json:"bookmarked"`
}

// FeedView is the feed as the viewer sees it.
type FeedView struct {
	Items   []FeedItem `json:"items"`
	HasMore bool       `json:"has_more"`
	Loading bool       `json:"loading"`
}

// PageRequest asks the store for the window of posts at or before EndAt.
// Quota is the number of visible posts still wanted by the current load.
type PageRequest struct {
	EndAt int64
	Limit int
	Quota int
}

// Query returns the store query for the request.
func (r PageRequest) Query() remote.Query {
	return remote.Latest(models.CollectionPosts, models.FieldCreatedAt, r.Limit).Before(r.EndAt)
}

// FetchPage runs a page request against store.
func FetchPage(ctx context.Context, store remote.Store, req PageRequest) ([]models.Post, error) {
	snap, err := store.Get(ctx, req.Query())
	if err != nil {
		return nil, err
	}
	return DecodeRecords[models.Post]("feed_page", snap), nil
}

// FeedProjector merges the live head window with older pages, filters them
// for the viewer and orders them newest first. Older pages are one-shot
// fetches: edits to them show up only once they re-enter the live window.
type FeedProjector struct {
	pageSize int
	viewer   models.Viewer
	users    Directory
	head     []models.Post
	older    map[string]models.Post
	headSeen bool
	hasMore  bool
	loading  bool
	view     FeedView
}

// NewFeedProjector creates an empty feed.
func NewFeedProjector(pageSize int) *FeedProjector {
	if pageSize <= 0 {
		pageSize = DefaultFeedPageSize
	}
	return &FeedProjector{pageSize: pageSize, older: make(map[string]models.Post)}
}

// HeadQuery is the live subscription feeding the top of the feed.
func (f *FeedProjector) HeadQuery() remote.Query {
	return remote.Latest(models.CollectionPosts, models.FieldCreatedAt, f.pageSize)
}

// SetViewer re-filters the feed for a new viewer snapshot. It returns a
// page request when the filter left the feed short of a page.
func (f *FeedProjector) SetViewer(v models.Viewer) (PageRequest, bool) {
	f.viewer = v
	f.recompute()
	return f.topUp()
}

// SetUsers re-joins authors. Like SetViewer it may ask for a page.
func (f *FeedProjector) SetUsers(d Directory) (PageRequest, bool) {
	f.users = d
	f.recompute()
	return f.topUp()
}

func (f *FeedProjector) topUp() (PageRequest, bool) {
	if !f.headSeen || !f.hasMore || f.loading || len(f.view.Items) >= f.pageSize {
		return PageRequest{}, false
	}
	return f.request(f.pageSize - len(f.view.Items)), true
}

// SetHead replaces the live window. Posts pushed out of a full window by
// newer ones move to the older set; posts missing for any other reason were
// deleted and disappear. It returns a page request when the first window
// was full but left the feed short of a page.
func (f *FeedProjector) SetHead(posts []models.Post) (PageRequest, bool) {
	if len(posts) == f.pageSize && len(posts) > 0 {
		floor := posts[0].CreatedAt
		for _, p := range posts {
			floor = min(floor, p.CreatedAt)
		}
		live := make(map[string]bool, len(posts))
		for _, p := range posts {
			live[p.ID] = true
		}
		for _, p := range f.head {
			if !live[p.ID] && p.CreatedAt <= floor {
				f.older[p.ID] = p
			}
		}
	}
	f.head = posts

	first := !f.headSeen
	f.headSeen = true
	if first {
		f.hasMore = len(posts) >= f.pageSize
	}
	f.recompute()

	if first {
		return f.topUp()
	}
	return PageRequest{}, false
}

// NextPage starts loading the next older page. ok is false when there is
// nothing more to load or a load is already running.
func (f *FeedProjector) NextPage() (PageRequest, bool) {
	if !f.headSeen || !f.hasMore || f.loading {
		return PageRequest{}, false
	}
	return f.request(f.pageSize), true
}

func (f *FeedProjector) request(quota int) PageRequest {
	f.loading = true
	f.view.Loading = true
	// One extra record covers the boundary post, which is already loaded.
	return PageRequest{EndAt: f.oldest(), Limit: f.pageSize + 1, Quota: quota}
}

// ApplyPage merges a fetched page. When the page was full but filtering kept
// the load short of its quota it returns the follow-up request. End of data
// is declared only when the store returns a short page.
func (f *FeedProjector) ApplyPage(req PageRequest, posts []models.Post, err error) (PageRequest, bool) {
	f.loading = false
	if err != nil {
		f.recompute()
		return PageRequest{}, false
	}

	added, visible := 0, 0
	for _, p := range posts {
		if f.known(p.ID) {
			continue
		}
		f.older[p.ID] = p
		added++
		if f.renderable(p) {
			visible++
		}
	}

	if len(posts) < req.Limit || added == 0 {
		// A full page with nothing new means every record sits on the
		// boundary timestamp; the window cannot move past it.
		f.hasMore = false
	}
	f.recompute()

	if f.hasMore && visible < req.Quota {
		return f.request(req.Quota - visible), true
	}
	return PageRequest{}, false
}

// View returns the current projection.
func (f *FeedProjector) View() FeedView { return f.view }

// HasMore reports whether older posts may exist.
func (f *FeedProjector) HasMore() bool { return f.hasMore }

func (f *FeedProjector) known(id string) bool {
	if _, ok := f.older[id]; ok {
		return true
	}
	for _, p := range f.head {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (f *FeedProjector) oldest() int64 {
	var oldest int64
	first := true
	for _, p := range f.head {
		if first || p.CreatedAt < oldest {
			oldest, first = p.CreatedAt, false
		}
	}
	for _, p := range f.older {
		if first || p.CreatedAt < oldest {
			oldest, first = p.CreatedAt, false
		}
	}
	return oldest
}

func (f *FeedProjector) renderable(p models.Post) bool {
	if !privacy.IsPostVisible(f.viewer, p) {
		return false
	}
	_, ok := f.users.resolve(p.OwnerID)
	return ok
}

func (f *FeedProjector) recompute() {
	defer observability.TrackProjection("feed")()

	merged := make(map[string]models.Post, len(f.head)+len(f.older))
	for id, p := range f.older {
		merged[id] = p
	}
	for _, p := range f.head {
		merged[p.ID] = p
	}

	items := make([]FeedItem, 0, len(merged))
	for _, p := range merged {
		if !privacy.IsPostVisible(f.viewer, p) {
			continue
		}
		author, ok := f.users.resolve(p.OwnerID)
		if !ok {
			continue
		}
		items = append(items, FeedItem{
			Post:          p,
			Author:        author,
			ReactionCount: p.Reactions.Count(),
			Liked:         p.Reactions[models.ReactionLike].Has(f.viewer.ID),
			Bookmarked:    f.viewer.Bookmarks.Has(p.ID),
		})
	}
	SortNewestFirst(items, func(it FeedItem) (int64, string) { return it.Post.CreatedAt, it.Post.ID })

	f.view = FeedView{Items: items, HasMore: f.hasMore, Loading: f.loading}
}

// SortNewestFirst orders items by timestamp descending, breaking ties by id
// descending.
func SortNewestFirst[T any](items []T, key func(T) (int64, string)) {
	slices.SortFunc(items, func(a, b T) int {
		ta, ia := key(a)
		tb, ib := key(b)
		if c := cmp.Compare(tb, ta); c != 0 {
			return c
		}
		return cmp.Compare(ib, ia)
	})
}
