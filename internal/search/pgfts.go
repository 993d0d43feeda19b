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

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across cases, templates, and drafts
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.OrgID == "" {
		return nil, 0, fmt.Errorf("search query missing organization filter")
	}
	if q.UserID == "" {
		return nil, 0, fmt.Errorf("search query missing caller filter")
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
	args := []any{q.Text, q.OrgID}
	if q.FilterType == "" || q.FilterType == ResultCase || q.FilterType == ResultDraft {
		// $3 is only bound when a sub-query references it.
		args = append(args, q.UserID)
	}

	var subQueries []string

	// Cases sub-query; the creator is always a member, so the
	// membership join is the whole creator-or-member rule.
	if q.FilterType == "" || q.FilterType == ResultCase {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'case'::text AS type, c.id, c.title,
				''::text AS snippet,
				c.id AS case_id, c.org_id,
				ts_rank(to_tsvector('english', c.title), %s) AS rank
			FROM cases c
			JOIN case_memberships cm ON cm.case_id = c.id AND cm.user_id = $3
			WHERE to_tsvector('english', c.title) @@ %s AND c.org_id = $2`, tsQuery, tsQuery))
	}

	// Templates sub-query
	if q.FilterType == "" || q.FilterType == ResultTemplate {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'template'::text AS type, t.id, t.name,
				ts_headline('english', t.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS case_id, t.org_id,
				ts_rank(to_tsvector('english', t.name || ' ' || t.content), %s) AS rank
			FROM templates t
			WHERE to_tsvector('english', t.name || ' ' || t.content) @@ %s AND t.org_id = $2`,
			tsQuery, tsQuery, tsQuery))
	}

	// Drafts sub-query; org scope and membership both come through
	// the owning case
	if q.FilterType == "" || q.FilterType == ResultDraft {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'draft'::text AS type, dr.id, 'v' || dr.version::text AS title,
				ts_headline('english', dr.rendered_content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				dr.case_id, c.org_id,
				ts_rank(to_tsvector('english', dr.rendered_content), %s) AS rank
			FROM drafts dr
			JOIN cases c ON c.id = dr.case_id
			JOIN case_memberships cm ON cm.case_id = dr.case_id AND cm.user_id = $3
			WHERE to_tsvector('english', dr.rendered_content) @@ %s AND c.org_id = $2`,
			tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, case_id, org_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.CaseID, &r.OrgID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CaseRecord, []TemplateRecord, []DraftRecord, error) {
	caseRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, org_id
		FROM cases
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load cases: %w", err)
	}
	defer caseRows.Close()

	cases := make([]CaseRecord, 0)
	for caseRows.Next() {
		var c CaseRecord
		if err := caseRows.Scan(&c.ID, &c.Title, &c.OrgID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := caseRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate cases: %w", err)
	}

	templateRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, type, content, org_id
		FROM templates
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load templates: %w", err)
	}
	defer templateRows.Close()

	templates := make([]TemplateRecord, 0)
	for templateRows.Next() {
		var t TemplateRecord
		if err := templateRows.Scan(&t.ID, &t.Name, &t.Type, &t.Content, &t.OrgID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := templateRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate templates: %w", err)
	}

	draftRows, err := p.db.QueryContext(ctx, `
		SELECT dr.id, dr.rendered_content, dr.version, dr.status, dr.case_id, c.org_id
		FROM drafts dr
		JOIN cases c ON c.id = dr.case_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load drafts: %w", err)
	}
	defer draftRows.Close()

	drafts := make([]DraftRecord, 0)
	for draftRows.Next() {
		var d DraftRecord
		if err := draftRows.Scan(&d.ID, &d.Content, &d.Version, &d.Status, &d.CaseID, &d.OrgID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	if err := draftRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate drafts: %w", err)
	}

	return cases, templates, drafts, nil
}
