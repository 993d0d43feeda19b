package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func emptyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// CreateCase inserts the case row and the creator's membership row in a
// single transaction, so there is no window where the case exists
// without its creator being a member.
func (s *PostgresStore) CreateCase(ctx context.Context, item Case) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create case tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cases (id, org_id, created_by, title, contact_json, metadata_json)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)
	`, item.ID, item.OrgID, item.CreatedBy, item.Title, emptyJSON(item.Contact), emptyJSON(item.Metadata)); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO case_memberships (case_id, user_id, added_by)
		VALUES ($1, $2, $2)
	`, item.ID, item.CreatedBy); err != nil {
		return fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create case: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (Case, error) {
	var item Case
	var contact, metadata []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, created_by, title, contact_json, metadata_json, created_at, updated_at
		FROM cases
		WHERE id=$1
	`, caseID).Scan(&item.ID, &item.OrgID, &item.CreatedBy, &item.Title, &contact, &metadata, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Case{}, err
	}
	item.Contact = contact
	item.Metadata = metadata
	return item, nil
}

// ListCasesForUser returns the cases the user is a member of. The
// creator is a member from the moment the case exists, so a plain
// membership join covers ownership too.
func (s *PostgresStore) ListCasesForUser(ctx context.Context, userID string) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.org_id, c.created_by, c.title, c.contact_json, c.metadata_json, c.created_at, c.updated_at
		FROM cases c
		JOIN case_memberships m ON m.case_id = c.id
		WHERE m.user_id=$1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	for rows.Next() {
		var item Case
		var contact, metadata []byte
		if err := rows.Scan(&item.ID, &item.OrgID, &item.CreatedBy, &item.Title, &contact, &metadata, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		item.Contact = contact
		item.Metadata = metadata
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCase(ctx context.Context, caseID, title string, contact, metadata json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cases
		SET title=$2, contact_json=$3::jsonb, metadata_json=$4::jsonb, updated_at=NOW()
		WHERE id=$1
	`, caseID, title, emptyJSON(contact), emptyJSON(metadata))
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCase(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id=$1`, caseID)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	return nil
}

// CaseAccessInfo is a trusted-predicate read: creator and organization
// of a case, with no access rule applied.
func (s *PostgresStore) CaseAccessInfo(ctx context.Context, caseID string) (creatorID, orgID string, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT created_by, org_id FROM cases WHERE id=$1`, caseID).Scan(&creatorID, &orgID)
	return
}

// HasMembership is a trusted-predicate read over raw membership rows.
func (s *PostgresStore) HasMembership(ctx context.Context, caseID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM case_memberships WHERE case_id=$1 AND user_id=$2)
	`, caseID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// AddMembership is idempotent: re-adding an existing pair is a no-op.
func (s *PostgresStore) AddMembership(ctx context.Context, m CaseMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_memberships (case_id, user_id, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_id, user_id) DO NOTHING
	`, m.CaseID, m.UserID, m.AddedBy)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMembership(ctx context.Context, caseID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM case_memberships WHERE case_id=$1 AND user_id=$2
	`, caseID, userID)
	if err != nil {
		return false, fmt.Errorf("remove membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove membership rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListMemberships(ctx context.Context, caseID string) ([]CaseMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.case_id, m.user_id, m.added_by, m.added_at, u.display_name, u.email
		FROM case_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.case_id=$1
		ORDER BY m.added_at ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]CaseMembership, 0)
	for rows.Next() {
		var item CaseMembership
		if err := rows.Scan(&item.CaseID, &item.UserID, &item.AddedBy, &item.AddedAt, &item.UserName, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}
