package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	sender := item.Sender
	if sender == "" {
		sender = SenderUser
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, case_id, user_id, sender, body)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.CaseID, item.UserID, sender, item.Body)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessagesForOwner only ever returns the owner's rows; the case
// being shared does not share its chat history.
func (s *PostgresStore) ListMessagesForOwner(ctx context.Context, caseID, userID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, user_id, sender, body, created_at
		FROM messages
		WHERE case_id=$1 AND user_id=$2
		ORDER BY created_at ASC
	`, caseID, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.CaseID, &item.UserID, &item.Sender, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var item Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, user_id, sender, body, created_at
		FROM messages
		WHERE id=$1
	`, messageID).Scan(&item.ID, &item.CaseID, &item.UserID, &item.Sender, &item.Body, &item.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, case_id, file_name, content_type, size_bytes, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.CaseID, item.FileName, item.ContentType, item.SizeBytes, item.ObjectKey, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM attachments
		WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.CaseID, &item.FileName, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, caseID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM attachments
		WHERE case_id=$1
		ORDER BY created_at DESC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.CaseID, &item.FileName, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}
