package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

func TestNotifierRecordsEvents(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Publish(context.Background(), artwork.UploadEvent{ArtworkID: "irises", RunID: "run-1"}))
	require.NoError(t, n.Publish(context.Background(), artwork.UploadEvent{ArtworkID: "haystacks", RunID: "run-1"}))

	events := n.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "irises", events[0].ArtworkID)

	events[0].ArtworkID = "mutated"
	assert.Equal(t, "irises", n.Events()[0].ArtworkID)
}

func TestNotifierHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := New()
	require.ErrorIs(t, n.Publish(ctx, artwork.UploadEvent{ArtworkID: "irises"}), context.Canceled)
	assert.Empty(t, n.Events())
}
