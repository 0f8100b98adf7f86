package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/pkg/models"
)

// backends returns a fresh instance of every Memory implementation, paired
// with a name, so behavioral tests can run identically across both.
func backends(t *testing.T) map[string]Memory {
	t.Helper()
	dir := t.TempDir()
	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Memory{
		"in-memory": NewInMemoryStore(),
		"sqlite":    sqliteStore,
	}
}

func sampleEpisode(id string) *models.Episode {
	return &models.Episode{
		ID:        id,
		SessionID: "session-1",
		Plan:      &models.Plan{ID: "plan-1"},
		Results:   []*models.TaskResult{{TaskID: "t1", Success: true}},
		Success:   true,
	}
}

func TestStoreAndGetEpisode(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ep := sampleEpisode("ep-1")
			require.NoError(t, store.StoreEpisode(context.Background(), ep))

			loaded, err := store.GetEpisode(context.Background(), "ep-1")
			require.NoError(t, err)
			assert.Equal(t, ep.SessionID, loaded.SessionID)
			assert.True(t, loaded.Success)
		})
	}
}

func TestStoreEpisodeRejectsNil(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.StoreEpisode(context.Background(), nil)
			assert.ErrorIs(t, err, laioserr.ErrValidation)
		})
	}
}

func TestGetEpisodeNotFound(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetEpisode(context.Background(), "missing")
			assert.ErrorIs(t, err, laioserr.ErrNotFound)
		})
	}
}

func TestStoreLongTermRejectsEmptyText(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.StoreLongTerm(context.Background(), "", nil)
			assert.ErrorIs(t, err, laioserr.ErrValidation)
		})
	}
}

func TestRecallLongTermRanksByKeywordOverlap(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.StoreLongTerm(ctx, "the deploy pipeline failed on staging", map[string]any{"kind": "incident"}))
			require.NoError(t, store.StoreLongTerm(ctx, "the user asked about billing invoices", nil))
			require.NoError(t, store.StoreLongTerm(ctx, "staging deploy retried and succeeded", nil))

			records, err := store.RecallLongTerm(ctx, "staging deploy failure", 5)
			require.NoError(t, err)
			require.NotEmpty(t, records)
			assert.Contains(t, records[0].Text, "staging")
			for i := 1; i < len(records); i++ {
				assert.GreaterOrEqual(t, records[i-1].Score, records[i].Score)
			}
		})
	}
}

func TestRecallLongTermRespectsLimit(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, store.StoreLongTerm(ctx, "deploy event number entry", nil))
			}
			records, err := store.RecallLongTerm(ctx, "deploy", 2)
			require.NoError(t, err)
			assert.Len(t, records, 2)
		})
	}
}

func TestRecallLongTermExcludesUnrelatedEntries(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.StoreLongTerm(ctx, "completely unrelated entry", nil))
			records, err := store.RecallLongTerm(ctx, "nonexistent keyword zzz", 5)
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.StoreEpisode(context.Background(), sampleEpisode("ep-persist")))
	require.NoError(t, store.Close())

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.GetEpisode(context.Background(), "ep-persist")
	require.NoError(t, err)
	assert.Equal(t, "session-1", loaded.SessionID)
}

func TestKeywordScore(t *testing.T) {
	assert.Equal(t, 0.0, keywordScore("", "anything"))
	assert.Equal(t, 0.0, keywordScore("hello", ""))
	assert.Equal(t, 1.0, keywordScore("deploy staging", "the deploy reached staging fine"))
	assert.InDelta(t, 0.5, keywordScore("deploy rollback", "the deploy succeeded"), 0.001)
}
