package projection

import (
	"testing"

	"vibesync/internal/models"
	"vibesync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecords_SkipsMalformed(t *testing.T) {
	t.Parallel()
	snap := remote.Snapshot{Records: []remote.Record{
		{ID: "c1", Data: []byte(`{"post_id":"p1","created_at":1}`)},
		{ID: "bad", Data: []byte(`{"created_at":"yesterday"}`)},
		{ID: "c2", Data: []byte(`{"post_id":"p1","created_at":2}`)},
	}}

	comments := DecodeRecords[models.Comment]("comments", snap)
	require.Len(t, comments, 2)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "c2", comments[1].ID)
	assert.Equal(t, "p1", comments[1].PostID)
}
