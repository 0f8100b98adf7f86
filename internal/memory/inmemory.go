package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/pkg/models"
)

// InMemoryStore is a map-plus-mutex Memory implementation: the default
// backend for tests and single-process runs where durability across
// restarts isn't required.
type InMemoryStore struct {
	mu       sync.RWMutex
	episodes map[string]*models.Episode
	longTerm []models.MemoryRecord
}

// NewInMemoryStore builds an empty in-memory Memory.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		episodes: make(map[string]*models.Episode),
	}
}

func (m *InMemoryStore) StoreEpisode(ctx context.Context, ep *models.Episode) error {
	if ep == nil {
		return fmt.Errorf("%w: nil episode", laioserr.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *ep
	m.episodes[ep.ID] = &clone
	return nil
}

func (m *InMemoryStore) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.episodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: episode %s", laioserr.ErrNotFound, id)
	}
	clone := *ep
	return &clone, nil
}

func (m *InMemoryStore) StoreLongTerm(ctx context.Context, text string, metadata map[string]any) error {
	if text == "" {
		return fmt.Errorf("%w: empty memory text", laioserr.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.longTerm = append(m.longTerm, models.MemoryRecord{
		ID:        uuid.NewString(),
		Text:      text,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *InMemoryStore) RecallLongTerm(ctx context.Context, query string, k int) ([]models.MemoryRecord, error) {
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	scored := make([]models.MemoryRecord, 0, len(m.longTerm))
	for _, rec := range m.longTerm {
		rec.Score = keywordScore(query, rec.Text)
		if rec.Score > 0 {
			scored = append(scored, rec)
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (m *InMemoryStore) Close() error { return nil }
