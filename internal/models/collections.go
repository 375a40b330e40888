package models

// Top-level collection names.
const (
	CollectionUsers         = "users"
	CollectionHandles       = "handles"
	CollectionPosts         = "posts"
	CollectionStories       = "stories"
	CollectionConversations = "conversations"
	CollectionPresence      = "presence"
)

// FieldCreatedAt is the order field used by windowed queries.
const FieldCreatedAt = "created_at"
