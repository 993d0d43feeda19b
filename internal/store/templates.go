package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) InsertTemplate(ctx context.Context, item Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, org_id, name, type, content, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.OrgID, item.Name, item.Type, item.Content, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	var item Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, type, content, created_by, created_at, updated_at
		FROM templates
		WHERE id=$1
	`, templateID).Scan(&item.ID, &item.OrgID, &item.Name, &item.Type, &item.Content, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Template{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context, orgID string) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, type, content, created_by, created_at, updated_at
		FROM templates
		WHERE org_id=$1
		ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		var item Template
		if err := rows.Scan(&item.ID, &item.OrgID, &item.Name, &item.Type, &item.Content, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, templateID, name, templateType, content string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET name=$2, type=$3, content=$4, updated_at=NOW()
		WHERE id=$1
	`, templateID, name, templateType, content)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=$1`, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// GetOrCreateSnapshot copies the template's current name/type/content
// into an immutable snapshot the first time a (case, template) pair is
// used. Concurrent callers race on the unique index; the loser's
// no-op insert falls through to the select and both see the same row.
func (s *PostgresStore) GetOrCreateSnapshot(ctx context.Context, snap CaseSnapshot) (CaseSnapshot, error) {
	if snap.TemplateID != nil {
		existing, err := s.getSnapshotByPair(ctx, snap.CaseID, *snap.TemplateID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return CaseSnapshot{}, err
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO case_snapshots (id, case_id, template_id, name, type, content, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (case_id, template_id) WHERE template_id IS NOT NULL DO NOTHING
		`, snap.ID, snap.CaseID, *snap.TemplateID, snap.Name, snap.Type, snap.Content, snap.CreatedBy); err != nil {
			return CaseSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
		}
		return s.getSnapshotByPair(ctx, snap.CaseID, *snap.TemplateID)
	}

	// Ad-hoc snapshot without a source template: always a fresh row.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO case_snapshots (id, case_id, name, type, content, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, snap.ID, snap.CaseID, snap.Name, snap.Type, snap.Content, snap.CreatedBy); err != nil {
		return CaseSnapshot{}, fmt.Errorf("insert ad-hoc snapshot: %w", err)
	}
	return s.GetSnapshot(ctx, snap.ID)
}

func (s *PostgresStore) getSnapshotByPair(ctx context.Context, caseID, templateID string) (CaseSnapshot, error) {
	var item CaseSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, template_id, name, type, content, created_by, created_at
		FROM case_snapshots
		WHERE case_id=$1 AND template_id=$2
	`, caseID, templateID).Scan(&item.ID, &item.CaseID, &item.TemplateID, &item.Name, &item.Type, &item.Content, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return CaseSnapshot{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, snapshotID string) (CaseSnapshot, error) {
	var item CaseSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, template_id, name, type, content, created_by, created_at
		FROM case_snapshots
		WHERE id=$1
	`, snapshotID).Scan(&item.ID, &item.CaseID, &item.TemplateID, &item.Name, &item.Type, &item.Content, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return CaseSnapshot{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, caseID string) ([]CaseSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, template_id, name, type, content, created_by, created_at
		FROM case_snapshots
		WHERE case_id=$1
		ORDER BY created_at ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]CaseSnapshot, 0)
	for rows.Next() {
		var item CaseSnapshot
		if err := rows.Scan(&item.ID, &item.CaseID, &item.TemplateID, &item.Name, &item.Type, &item.Content, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}
