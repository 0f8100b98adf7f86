// Package memory implements the runtime's episodic and long-term memory:
// a durable record of past goal executions (Episodes) plus a
// keyword-ranked long-term store the planner and reflector can recall
// against. Two backends are provided — an in-memory one for tests and
// single-process runs, and a SQLite-backed one for a durable local
// default — mirroring the teacher's pattern of always shipping a usable
// default alongside a production-grade backend.
package memory

import (
	"context"

	"github.com/laios/laios/pkg/models"
)

// Memory is the storage surface for episodes and long-term facts. The
// agent controller and the reflector do not hold a Memory; cmd/laios
// opens the configured store and closes it, and nothing stores episodes
// or recalls facts through it.
type Memory interface {
	StoreEpisode(ctx context.Context, ep *models.Episode) error
	GetEpisode(ctx context.Context, id string) (*models.Episode, error)
	StoreLongTerm(ctx context.Context, text string, metadata map[string]any) error
	RecallLongTerm(ctx context.Context, query string, k int) ([]models.MemoryRecord, error)
	Close() error
}
