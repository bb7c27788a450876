package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the publications fts column, ranked,
// with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := p.db.Query(`
		SELECT number,
			ts_headline('english', body, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			COUNT(*) OVER () AS total
		FROM publications
		WHERE fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC, number DESC
		LIMIT `+strconv.Itoa(limit)+` OFFSET `+strconv.Itoa(offset)+`
	`, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Number, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}

// LoadAllPublications reads every publication for reindexing into Meilisearch.
func (p *PgFTS) LoadAllPublications(ctx context.Context) ([]PublicationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT number, body FROM publications ORDER BY number ASC`)
	if err != nil {
		return nil, fmt.Errorf("load publications: %w", err)
	}
	defer rows.Close()

	var records []PublicationRecord
	for rows.Next() {
		var rec PublicationRecord
		if err := rows.Scan(&rec.Number, &rec.Body); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		rec.ID = strconv.FormatInt(rec.Number, 10)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return records, nil
}
