package projection

import (
	"cmp"
	"slices"

	"vibesync/internal/models"
	"vibesync/internal/remote"
)

// DefaultCommentPageSize is the number of top-level comments per page.
const DefaultCommentPageSize = 20

// CommentNode is a top-level comment with its loaded replies, oldest first.
type CommentNode struct {
	Comment       models.Comment `json:"comment"`
	Author        *models.User   `json:"author,omitempty"`
	Replies       []ReplyNode    `json:"replies"`
	RepliesLoaded bool           `json:"replies_loaded"`
}

// ReplyNode is a reply attached to a top-level comment.
type ReplyNode struct {
	Comment models.Comment `json:"comment"`
	Author  *models.User   `json:"author,omitempty"`
}

// BuildTree folds a flat comment list into two levels. Top-level comments
// come newest first; every reply, however deep its parent chain, is attached
// to its top-level root and listed oldest first. Replies whose chain does not
// reach a known top-level comment are dropped.
func BuildTree(flat []models.Comment) []CommentNode {
	byID := make(map[string]models.Comment, len(flat))
	for _, c := range flat {
		byID[c.ID] = c
	}

	rootOf := func(c models.Comment) (string, bool) {
		seen := map[string]bool{c.ID: true}
		for !c.IsTopLevel() {
			parent, ok := byID[c.ParentID]
			if !ok || seen[parent.ID] {
				return "", false
			}
			seen[parent.ID] = true
			c = parent
		}
		return c.ID, true
	}

	nodes := make([]CommentNode, 0)
	index := make(map[string]int)
	for _, c := range flat {
		if c.IsTopLevel() {
			if _, dup := index[c.ID]; dup {
				continue
			}
			index[c.ID] = len(nodes)
			nodes = append(nodes, CommentNode{Comment: c})
		}
	}
	added := make(map[string]bool)
	for _, c := range flat {
		if c.IsTopLevel() || added[c.ID] {
			continue
		}
		root, ok := rootOf(c)
		if !ok {
			continue
		}
		added[c.ID] = true
		n := &nodes[index[root]]
		n.Replies = append(n.Replies, ReplyNode{Comment: c})
	}

	for i := range nodes {
		slices.SortFunc(nodes[i].Replies, func(a, b ReplyNode) int {
			if c := cmp.Compare(a.Comment.CreatedAt, b.Comment.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.Comment.ID, b.Comment.ID)
		})
	}
	SortNewestFirst(nodes, func(n CommentNode) (int64, string) { return n.Comment.CreatedAt, n.Comment.ID })
	return nodes
}

// CommentMutation names what a comment write changed so the sheet can
// re-fetch the affected levels.
type CommentMutation struct {
	PostID string `json:"post_id"`
	// RootID is the top-level comment whose replies changed. Empty when a
	// top-level comment itself changed.
	RootID string `json:"root_id,omitempty"`
}

// CommentSheetView is the rendered comment sheet of one post.
type CommentSheetView struct {
	PostID  string        `json:"post_id"`
	Nodes   []CommentNode `json:"nodes"`
	HasMore bool          `json:"has_more"`
}

// LevelFetch is one issued comment-level query. Seq orders fetches by
// issue time across every level of the sheet.
type LevelFetch struct {
	Query remote.Query
	// RootID is empty for the top level.
	RootID string
	Seq    uint64
}

// CommentSheet holds the comments of one open post. Mutations are never
// patched in locally: every change re-fetches the affected level so counts
// always match the store, at the cost of one round trip per write.
// Fetches may complete in any order; a result older than the last one
// applied to its level is dropped.
type CommentSheet struct {
	postID   string
	pageSize int
	limit    int
	top      []models.Comment
	replies  map[string][]models.Comment
	expanded map[string]bool
	hasMore  bool

	seq            uint64
	appliedTop     uint64
	appliedReplies map[string]uint64
}

// NewCommentSheet opens a sheet showing one page of top-level comments.
func NewCommentSheet(postID string, pageSize int) *CommentSheet {
	if pageSize <= 0 {
		pageSize = DefaultCommentPageSize
	}
	return &CommentSheet{
		postID:         postID,
		pageSize:       pageSize,
		limit:          pageSize,
		replies:        make(map[string][]models.Comment),
		expanded:       make(map[string]bool),
		appliedReplies: make(map[string]uint64),
	}
}

// PostID returns the post the sheet belongs to.
func (s *CommentSheet) PostID() string { return s.postID }

// TopQuery is the query for the newest top-level comments up to the loaded
// depth.
func (s *CommentSheet) TopQuery() remote.Query {
	return remote.Latest(models.CommentsPath(s.postID), models.FieldCreatedAt, s.limit)
}

// ReplyQuery is the query for every reply under rootID.
func (s *CommentSheet) ReplyQuery(rootID string) remote.Query {
	return remote.Query{Collection: models.RepliesPath(s.postID, rootID), OrderBy: models.FieldCreatedAt}
}

// FetchTop issues a fetch of the top level.
func (s *CommentSheet) FetchTop() LevelFetch {
	s.seq++
	return LevelFetch{Query: s.TopQuery(), Seq: s.seq}
}

// FetchReplies issues a fetch of rootID's replies.
func (s *CommentSheet) FetchReplies(rootID string) LevelFetch {
	s.seq++
	return LevelFetch{Query: s.ReplyQuery(rootID), RootID: rootID, Seq: s.seq}
}

// Apply replaces the level f fetched with its result. It reports false when
// the result was dropped: a newer fetch of the level was already applied, or
// the replies it carries belong to a collapsed root.
func (s *CommentSheet) Apply(f LevelFetch, comments []models.Comment) bool {
	if f.RootID == "" {
		if f.Seq <= s.appliedTop {
			return false
		}
		s.appliedTop = f.Seq
		s.applyTop(comments, f.Query.LimitToLast)
		return true
	}
	if !s.expanded[f.RootID] || f.Seq <= s.appliedReplies[f.RootID] {
		return false
	}
	s.appliedReplies[f.RootID] = f.Seq
	s.replies[f.RootID] = comments
	return true
}

func (s *CommentSheet) applyTop(comments []models.Comment, limit int) {
	s.top = comments
	s.hasMore = limit > 0 && len(comments) >= limit
	live := make(map[string]bool, len(comments))
	for _, c := range comments {
		live[c.ID] = true
	}
	for id := range s.replies {
		if !live[id] {
			delete(s.replies, id)
			delete(s.expanded, id)
			delete(s.appliedReplies, id)
		}
	}
}

// LoadMore widens the top-level window by one page. ok is false when the
// last applied fetch was short.
func (s *CommentSheet) LoadMore() (LevelFetch, bool) {
	if !s.hasMore {
		return LevelFetch{}, false
	}
	s.limit += s.pageSize
	return s.FetchTop(), true
}

// Expand marks rootID's replies as wanted and issues the fetch for them.
func (s *CommentSheet) Expand(rootID string) LevelFetch {
	s.expanded[rootID] = true
	return s.FetchReplies(rootID)
}

// Expanded lists the roots whose replies are shown, in id order.
func (s *CommentSheet) Expanded() []string {
	ids := make([]string, 0, len(s.expanded))
	for id := range s.expanded {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Collapse hides rootID's replies.
func (s *CommentSheet) Collapse(rootID string) {
	delete(s.expanded, rootID)
	delete(s.replies, rootID)
}

// Refresh issues fetches for the top level and every expanded root.
func (s *CommentSheet) Refresh() []LevelFetch {
	fetches := []LevelFetch{s.FetchTop()}
	for _, rootID := range s.Expanded() {
		fetches = append(fetches, s.FetchReplies(rootID))
	}
	return fetches
}

// Invalidate issues the fetches to re-run after m. A reply change also
// re-fetches the top level because the root's reply count changed.
func (s *CommentSheet) Invalidate(m CommentMutation) []LevelFetch {
	if m.PostID != s.postID {
		return nil
	}
	fetches := []LevelFetch{s.FetchTop()}
	if m.RootID != "" && s.expanded[m.RootID] {
		fetches = append(fetches, s.FetchReplies(m.RootID))
	}
	return fetches
}

// View renders the sheet for viewer. Comments by blocked users and by
// users whose profile is gone are left out.
func (s *CommentSheet) View(viewer models.Viewer, users Directory) CommentSheetView {
	flat := make([]models.Comment, 0, len(s.top))
	flat = append(flat, s.top...)
	for rootID, replies := range s.replies {
		for _, r := range replies {
			if r.ParentID == "" {
				r.ParentID = rootID
			}
			flat = append(flat, r)
		}
	}

	nodes := BuildTree(flat)
	out := make([]CommentNode, 0, len(nodes))
	for _, n := range nodes {
		if viewer.HasBlocked(n.Comment.OwnerID) {
			continue
		}
		author, ok := users.resolve(n.Comment.OwnerID)
		if !ok {
			continue
		}
		n.Author = author
		n.RepliesLoaded = s.expanded[n.Comment.ID]
		replies := make([]ReplyNode, 0, len(n.Replies))
		for _, r := range n.Replies {
			if viewer.HasBlocked(r.Comment.OwnerID) {
				continue
			}
			if r.Author, ok = users.resolve(r.Comment.OwnerID); !ok {
				continue
			}
			replies = append(replies, r)
		}
		n.Replies = replies
		out = append(out, n)
	}
	return CommentSheetView{PostID: s.postID, Nodes: out, HasMore: s.hasMore}
}
