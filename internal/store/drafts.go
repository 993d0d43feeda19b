package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const draftColumns = `id, case_id, version, status, rendered_content, snapshot_id, created_by, created_at, saved_by, saved_at`

func scanDraft(row interface{ Scan(...any) error }) (Draft, error) {
	var item Draft
	err := row.Scan(
		&item.ID,
		&item.CaseID,
		&item.Version,
		&item.Status,
		&item.Content,
		&item.SnapshotID,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.SavedBy,
		&item.SavedAt,
	)
	return item, err
}

// NextVersion reports the version number the next insert would claim.
// Informational only: the allocation itself happens atomically inside
// InsertDraftNextVersion.
func (s *PostgresStore) NextVersion(ctx context.Context, caseID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM drafts WHERE case_id=$1
	`, caseID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return next, nil
}

// InsertDraftNextVersion allocates max+1 and inserts in one statement.
// Two concurrent callers can both compute the same max; the unique
// index on (case_id, version) rejects the second insert, surfaced as
// ErrVersionConflict so the engine can retry.
func (s *PostgresStore) InsertDraftNextVersion(ctx context.Context, item Draft) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO drafts (id, case_id, version, status, rendered_content, snapshot_id, created_by)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, 'draft', $3, $4, $5
		FROM drafts
		WHERE case_id=$2
		RETURNING `+draftColumns, item.ID, item.CaseID, item.Content, item.SnapshotID, item.CreatedBy)

	inserted, err := scanDraft(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Draft{}, ErrVersionConflict
		}
		return Draft{}, fmt.Errorf("insert draft: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, draftID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+` FROM drafts WHERE id=$1
	`, draftID)
	return scanDraft(row)
}

// GetCurrentDraft returns the highest-version draft for a case, or nil
// when the case has no drafts.
func (s *PostgresStore) GetCurrentDraft(ctx context.Context, caseID string) (*Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts
		WHERE case_id=$1
		ORDER BY version DESC
		LIMIT 1
	`, caseID)
	item, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current draft: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListDrafts(ctx context.Context, caseID string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM drafts
		WHERE case_id=$1
		ORDER BY version DESC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	items := make([]Draft, 0)
	for rows.Next() {
		item, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return items, nil
}

// SaveDraft performs the one-way draft -> saved transition. The guarded
// UPDATE only fires on an unsaved row, so a second call is a no-op and
// the returned row carries the original saved_by/saved_at stamps. The
// bool reports whether this call performed the transition.
func (s *PostgresStore) SaveDraft(ctx context.Context, draftID, savedBy string) (Draft, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts
		SET status='saved', saved_by=$2, saved_at=NOW()
		WHERE id=$1 AND status='draft'
	`, draftID, savedBy)
	if err != nil {
		return Draft{}, false, fmt.Errorf("save draft: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Draft{}, false, fmt.Errorf("save draft rows: %w", err)
	}
	draft, err := s.GetDraft(ctx, draftID)
	if err != nil {
		return Draft{}, false, err
	}
	return draft, affected > 0, nil
}

// UpdateDraftContent edits rendered content in place on the same
// version row. This is the one draft mutation that does not allocate a
// new version.
func (s *PostgresStore) UpdateDraftContent(ctx context.Context, draftID, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET rendered_content=$2 WHERE id=$1
	`, draftID, content)
	if err != nil {
		return false, fmt.Errorf("update draft content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update draft content rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteDraft removes a version without renumbering the rest; gaps in
// the sequence are expected after deletion.
func (s *PostgresStore) DeleteDraft(ctx context.Context, draftID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id=$1`, draftID)
	if err != nil {
		return false, fmt.Errorf("delete draft: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete draft rows: %w", err)
	}
	return affected > 0, nil
}
