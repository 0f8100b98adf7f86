package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"github.com/laios/laios/internal/laioserr"
	"github.com/laios/laios/pkg/models"
)

// SQLiteStore is a durable, single-file Memory backend, the default for
// runs that need episodes and long-term facts to survive a restart
// without standing up an external database.
type SQLiteStore struct {
	db *sql.DB

	stmtInsertEpisode  *sql.Stmt
	stmtGetEpisode     *sql.Stmt
	stmtInsertLongTerm *sql.Stmt
	stmtSelectLongTerm *sql.Stmt
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and prepares its schema and statements.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("memory: ping sqlite: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	success INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS long_term_memory (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) prepare() error {
	var err error
	if s.stmtInsertEpisode, err = s.db.Prepare(
		`INSERT OR REPLACE INTO episodes (id, session_id, payload, success, created_at) VALUES (?, ?, ?, ?, ?)`,
	); err != nil {
		return fmt.Errorf("memory: prepare insert episode: %w", err)
	}
	if s.stmtGetEpisode, err = s.db.Prepare(
		`SELECT payload FROM episodes WHERE id = ?`,
	); err != nil {
		return fmt.Errorf("memory: prepare get episode: %w", err)
	}
	if s.stmtInsertLongTerm, err = s.db.Prepare(
		`INSERT INTO long_term_memory (id, text, metadata, created_at) VALUES (?, ?, ?, ?)`,
	); err != nil {
		return fmt.Errorf("memory: prepare insert long-term: %w", err)
	}
	if s.stmtSelectLongTerm, err = s.db.Prepare(
		`SELECT id, text, metadata, created_at FROM long_term_memory ORDER BY created_at DESC LIMIT 5000`,
	); err != nil {
		return fmt.Errorf("memory: prepare select long-term: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StoreEpisode(ctx context.Context, ep *models.Episode) error {
	if ep == nil {
		return fmt.Errorf("%w: nil episode", laioserr.ErrValidation)
	}
	payload, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("memory: marshal episode: %w", err)
	}
	success := 0
	if ep.Success {
		success = 1
	}
	createdAt := ep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.stmtInsertEpisode.ExecContext(ctx, ep.ID, ep.SessionID, payload, success, createdAt)
	if err != nil {
		return fmt.Errorf("memory: insert episode: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	var payload []byte
	err := s.stmtGetEpisode.QueryRowContext(ctx, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: episode %s", laioserr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get episode: %w", err)
	}
	var ep models.Episode
	if err := json.Unmarshal(payload, &ep); err != nil {
		return nil, fmt.Errorf("memory: unmarshal episode: %w", err)
	}
	return &ep, nil
}

func (s *SQLiteStore) StoreLongTerm(ctx context.Context, text string, metadata map[string]any) error {
	if text == "" {
		return fmt.Errorf("%w: empty memory text", laioserr.ErrValidation)
	}
	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("memory: marshal metadata: %w", err)
		}
	}
	_, err := s.stmtInsertLongTerm.ExecContext(ctx, uuid.NewString(), text, string(metaJSON), time.Now())
	if err != nil {
		return fmt.Errorf("memory: insert long-term: %w", err)
	}
	return nil
}

// RecallLongTerm scores every stored long-term record against query and
// returns the top k. The corpus is capped at 5000 rows per query
// (oldest dropped first) to keep this a bounded scan rather than
// growing unboundedly with the database's full history.
func (s *SQLiteStore) RecallLongTerm(ctx context.Context, query string, k int) ([]models.MemoryRecord, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := s.stmtSelectLongTerm.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: select long-term: %w", err)
	}
	defer rows.Close()

	var scored []models.MemoryRecord
	for rows.Next() {
		var rec models.MemoryRecord
		var metaJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Text, &metaJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan long-term row: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("memory: unmarshal metadata: %w", err)
			}
		}
		rec.Score = keywordScore(query, rec.Text)
		if rec.Score > 0 {
			scored = append(scored, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate long-term rows: %w", err)
	}

	sortByScoreDesc(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func sortByScoreDesc(records []models.MemoryRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].Score > records[j-1].Score; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
