package hass

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// maxVars keeps IN lists under SQLite's bound-parameter limit.
const maxVars = 500

// Recorder reads distinct historical states from a recorder database
// (home-assistant_v2.db). It only ever reads.
type Recorder struct {
	db *sql.DB
}

// OpenRecorder opens the database at path read-only.
func OpenRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open recorder: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open recorder: %w", err)
	}
	return &Recorder{db: db}, nil
}

// NewRecorder wraps an already open database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Close releases the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// History returns, per entity, the distinct states recorded since the given
// time. Entities without rows are absent from the map.
func (r *Recorder) History(ctx context.Context, ids []string, since time.Time) (map[string][]string, error) {
	out := make(map[string][]string)
	for start := 0; start < len(ids); start += maxVars {
		end := min(start+maxVars, len(ids))
		if err := r.chunk(ctx, ids[start:end], since, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Recorder) chunk(ctx context.Context, ids []string, since time.Time, out map[string][]string) error {
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, float64(since.UnixNano())/1e9)

	q := `
	SELECT DISTINCT m.entity_id, s.state
	FROM states s
	JOIN states_meta m ON s.metadata_id = m.metadata_id
	WHERE m.entity_id IN (` + placeholders(len(ids)) + `)
	  AND s.last_updated_ts >= ?
	  AND s.state IS NOT NULL
	ORDER BY m.entity_id, s.state`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		out[id] = append(out[id], state)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
