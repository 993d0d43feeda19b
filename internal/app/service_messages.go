package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"casedesk/api/internal/blob"
	"casedesk/api/internal/llm"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

func messageToMap(item store.Message) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"caseId":    item.CaseID,
		"sender":    item.Sender,
		"body":      item.Body,
		"createdAt": item.CreatedAt,
	}
}

// ListMessages returns the caller's own thread on the case. Members
// never see each other's messages even though the case is shared.
func (s *Service) ListMessages(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if err := s.rules.MessageAccess(ctx, caseID, session.UserID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	items, err := s.store.ListMessagesForOwner(ctx, caseID, session.UserID)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, messageToMap(item))
	}
	return result, nil
}

func (s *Service) PostMessage(ctx context.Context, session Session, caseID, body string) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errValidation("body is required")
	}
	if err := s.rules.MessageAccess(ctx, caseID, session.UserID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}

	item := store.Message{
		ID:     util.NewID("msg"),
		CaseID: caseID,
		UserID: session.UserID,
		Sender: store.SenderUser,
		Body:   body,
	}
	if err := s.store.InsertMessage(ctx, item); err != nil {
		return nil, err
	}
	saved, err := s.store.GetMessage(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return messageToMap(saved), nil
}

// AskAssistant posts the caller's question and a generated reply in the
// caller's private thread. The current draft, when present, is handed
// to the provider as context.
func (s *Service) AskAssistant(ctx context.Context, session Session, caseID, question string) ([]map[string]any, error) {
	posted, err := s.PostMessage(ctx, session, caseID, question)
	if err != nil {
		return nil, err
	}

	prompt := question
	if draft, err := s.store.GetCurrentDraft(ctx, caseID); err == nil && draft != nil {
		prompt = fmt.Sprintf("The current draft reads:\n---\n%s\n---\n\n%s", draft.Content, question)
	}

	answer, err := s.gen.Generate(ctx, prompt, llm.Options{
		Model:        s.cfg.LLMModel,
		Temperature:  s.cfg.LLMTemperature,
		MaxTokens:    s.cfg.LLMMaxTokens,
		SystemPrompt: s.cfg.LLMSystemPrompt,
	})
	if err != nil {
		return nil, wrapAccessError(err)
	}

	reply := store.Message{
		ID:     util.NewID("msg"),
		CaseID: caseID,
		UserID: session.UserID,
		Sender: store.SenderBot,
		Body:   answer,
	}
	if err := s.store.InsertMessage(ctx, reply); err != nil {
		return nil, err
	}
	savedReply, err := s.store.GetMessage(ctx, reply.ID)
	if err != nil {
		return nil, err
	}

	return []map[string]any{posted, messageToMap(savedReply)}, nil
}

func (s *Service) DeleteMessage(ctx context.Context, session Session, caseID, messageID string) error {
	item, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return wrapAccessError(err)
	}
	if item.CaseID != caseID {
		return errDenied()
	}
	if err := s.rules.MessageAccess(ctx, caseID, item.UserID, session.UserID); err != nil {
		return wrapAccessError(err)
	}
	removed, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !removed {
		return errDenied()
	}
	return nil
}

func attachmentToMap(item store.Attachment) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"caseId":      item.CaseID,
		"fileName":    item.FileName,
		"contentType": item.ContentType,
		"sizeBytes":   item.SizeBytes,
		"uploadedBy":  item.UploadedBy,
		"createdAt":   item.CreatedAt,
	}
}

// UploadAttachment streams a file to object storage and records it on
// the case. Attachments are shared case material, unlike messages.
func (s *Service) UploadAttachment(ctx context.Context, session Session, caseID, fileName, contentType string, size int64, reader io.Reader) (map[string]any, error) {
	if s.blob == nil {
		return nil, domainError(503, "STORAGE_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, errValidation("fileName is required")
	}
	if err := s.rules.CaseAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}

	item := store.Attachment{
		ID:          util.NewID("att"),
		CaseID:      caseID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  session.UserID,
	}
	item.ObjectKey = s.attachmentKey(ctx, caseID, item.ID)

	if err := s.blob.Upload(ctx, item.ObjectKey, reader, size, contentType); err != nil {
		return nil, err
	}
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		return nil, err
	}
	saved, err := s.store.GetAttachment(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return attachmentToMap(saved), nil
}

func (s *Service) ListAttachments(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if err := s.rules.CaseAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	items, err := s.store.ListAttachments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, attachmentToMap(item))
	}
	return result, nil
}

// DownloadAttachment opens the stored object; the caller is responsible
// for closing the reader.
func (s *Service) DownloadAttachment(ctx context.Context, session Session, caseID, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	if s.blob == nil {
		return store.Attachment{}, nil, domainError(503, "STORAGE_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if err := s.rules.CaseAccess(ctx, caseID, session.UserID); err != nil {
		return store.Attachment{}, nil, wrapAccessError(err)
	}
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, wrapAccessError(err)
	}
	if item.CaseID != caseID {
		return store.Attachment{}, nil, errDenied()
	}
	reader, err := s.blob.Download(ctx, item.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return item, reader, nil
}

func (s *Service) attachmentKey(ctx context.Context, caseID, attachmentID string) string {
	_, orgID, err := s.store.CaseAccessInfo(ctx, caseID)
	if err != nil {
		orgID = "unknown"
	}
	return blob.ObjectKey(orgID, caseID, attachmentID)
}
