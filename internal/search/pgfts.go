package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. Without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over page titles and block text, ranked with
// ts_rank and snippeted with ts_headline.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	accountFilter := func(column string) string {
		if q.FilterAccountID == "" {
			return ""
		}
		return " AND " + column + " = $2"
	}
	if q.FilterAccountID != "" {
		args = append(args, q.FilterAccountID)
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultPage {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'page'::text AS type, pg.entity_id AS id, pg.title,
				''::text AS snippet,
				pg.entity_id AS page_id, pg.account_id,
				ts_rank(pg.fts, %s) AS rank
			FROM pages pg
			WHERE pg.fts @@ %s%s`, tsQuery, tsQuery, accountFilter("pg.account_id")))
	}
	if q.FilterType == "" || q.FilterType == ResultBlock {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'block'::text AS type, pb.block_entity_id AS id, pb.component_id AS title,
				ts_headline('english', pb.search_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				pb.page_id, pb.account_id,
				ts_rank(pb.fts, %s) AS rank
			FROM page_blocks pb
			WHERE pb.fts @@ %s%s`, tsQuery, tsQuery, tsQuery, accountFilter("pb.account_id")))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, page_id, account_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.PageID, &r.AccountID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable page and block for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PageRecord, []BlockRecord, error) {
	pageRows, err := p.db.QueryContext(ctx, `SELECT entity_id, account_id, title FROM pages`)
	if err != nil {
		return nil, nil, fmt.Errorf("load pages: %w", err)
	}
	defer pageRows.Close()

	pages := make([]PageRecord, 0)
	for pageRows.Next() {
		var r PageRecord
		if err := pageRows.Scan(&r.ID, &r.AccountID, &r.Title); err != nil {
			return nil, nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, r)
	}
	if err := pageRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate pages: %w", err)
	}

	blockRows, err := p.db.QueryContext(ctx, `
		SELECT block_entity_id, page_id, account_id, component_id, search_text
		FROM page_blocks
		WHERE search_text <> ''
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load blocks: %w", err)
	}
	defer blockRows.Close()

	blocks := make([]BlockRecord, 0)
	for blockRows.Next() {
		var r BlockRecord
		if err := blockRows.Scan(&r.ID, &r.PageID, &r.AccountID, &r.ComponentID, &r.Text); err != nil {
			return nil, nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, r)
	}
	if err := blockRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return pages, blocks, nil
}
