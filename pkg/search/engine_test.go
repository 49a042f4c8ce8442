package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinRadius(t *testing.T) {
	e, err := New(Config{}, nil)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	require.NoError(t, e.IndexBatch(ctx, []Doc{
		{ID: "near", Latitude: 17.3958, Longitude: 78.4867, Capabilities: []string{"ICU"}},
		{ID: "far", Latitude: 17.6850, Longitude: 78.4867},
	}))

	hits, err := e.Within(ctx, 17.3850, 78.4867, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].ID)

	require.NoError(t, e.Delete(ctx, "near"))
	hits, err = e.Within(ctx, 17.3850, 78.4867, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestWithinReadsAllPages(t *testing.T) {
	e, err := New(Config{MaxHits: 2}, nil)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	docs := make([]Doc, 0, 7)
	for i := 0; i < 7; i++ {
		docs = append(docs, Doc{ID: fmt.Sprintf("f-%d", i), Latitude: 17.3850 + float64(i)*0.001, Longitude: 78.4867})
	}
	require.NoError(t, e.IndexBatch(ctx, docs))

	hits, err := e.Within(ctx, 17.3850, 78.4867, 5)
	require.NoError(t, err)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []string{"f-0", "f-1", "f-2", "f-3", "f-4", "f-5", "f-6"}, ids)
}

func TestClosedEngine(t *testing.T) {
	e, err := New(Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	_, err = e.Within(context.Background(), 0, 0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
