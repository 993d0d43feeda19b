package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"casedesk/api/internal/export"
	"casedesk/api/internal/llm"
	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

// versionInsertRetries bounds how often a generate call retries after
// losing the version-number race to a concurrent caller.
const versionInsertRetries = 3

type GenerateInput struct {
	TemplateID   string   `json:"templateId"`
	Instructions string   `json:"instructions"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    int      `json:"maxTokens"`
}

func draftToMap(item store.Draft) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"caseId":     item.CaseID,
		"version":    item.Version,
		"status":     item.Status,
		"content":    item.Content,
		"snapshotId": item.SnapshotID,
		"createdBy":  item.CreatedBy,
		"createdAt":  item.CreatedAt,
		"savedBy":    item.SavedBy,
		"savedAt":    item.SavedAt,
	}
}

// NextVersion reports the version number the next generate call would
// claim. Informational only; the insert re-computes it atomically.
func (s *Service) NextVersion(ctx context.Context, session Session, caseID string) (int, error) {
	if err := s.rules.DraftAccess(ctx, caseID, session.UserID); err != nil {
		return 0, wrapAccessError(err)
	}
	next, err := s.store.NextVersion(ctx, caseID)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// GenerateDraft renders a new draft version for the case: resolve the
// template snapshot, call the text provider, then claim the next
// version number. Provider failures surface as-is and are never
// retried; only the version insert retries, and only on a version
// collision.
func (s *Service) GenerateDraft(ctx context.Context, session Session, caseID string, input GenerateInput) (map[string]any, error) {
	if err := s.rules.DraftAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}

	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, wrapAccessError(err)
	}

	var snapshotID *string
	var snapshotContent string
	if strings.TrimSpace(input.TemplateID) != "" {
		snapMap, err := s.GetOrCreateSnapshot(ctx, session, caseID, input.TemplateID)
		if err != nil {
			return nil, err
		}
		id := snapMap["id"].(string)
		snapshotID = &id
		snapshotContent = snapMap["content"].(string)
	}

	prompt := buildDraftPrompt(item, snapshotContent, input.Instructions)

	opts := llm.Options{
		Model:        s.cfg.LLMModel,
		Temperature:  s.cfg.LLMTemperature,
		MaxTokens:    s.cfg.LLMMaxTokens,
		SystemPrompt: s.cfg.LLMSystemPrompt,
	}
	if input.Model != "" {
		opts.Model = input.Model
	}
	if input.Temperature != nil {
		opts.Temperature = *input.Temperature
	}
	if input.MaxTokens > 0 {
		opts.MaxTokens = input.MaxTokens
	}

	content, err := s.gen.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, wrapAccessError(err)
	}

	draft, err := s.insertDraftWithRetry(ctx, store.Draft{
		CaseID:     caseID,
		Content:    content,
		SnapshotID: snapshotID,
		CreatedBy:  session.UserID,
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexDraft(search.DraftRecord{
			ID: draft.ID, Content: draft.Content, Version: draft.Version,
			Status: draft.Status, CaseID: draft.CaseID, OrgID: item.OrgID,
		})
	}

	return draftToMap(draft), nil
}

// RegenerateDraft always produces a new version; it never touches the
// versions already on file.
func (s *Service) RegenerateDraft(ctx context.Context, session Session, caseID string, input GenerateInput) (map[string]any, error) {
	return s.GenerateDraft(ctx, session, caseID, input)
}

func (s *Service) insertDraftWithRetry(ctx context.Context, item store.Draft) (store.Draft, error) {
	for attempt := 0; attempt < versionInsertRetries; attempt++ {
		item.ID = util.NewID("drf")
		draft, err := s.store.InsertDraftNextVersion(ctx, item)
		if err == nil {
			return draft, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return store.Draft{}, err
		}
	}
	return store.Draft{}, errConflict("could not allocate a draft version, please retry")
}

func buildDraftPrompt(item store.Case, templateContent, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a document for the case %q.\n", item.Title)
	if len(item.Contact) > 0 {
		fmt.Fprintf(&b, "\nRecipient details (JSON):\n%s\n", string(item.Contact))
	}
	if len(item.Metadata) > 0 {
		fmt.Fprintf(&b, "\nCase details (JSON):\n%s\n", string(item.Metadata))
	}
	if strings.TrimSpace(templateContent) != "" {
		fmt.Fprintf(&b, "\nUse this template as the structural basis:\n---\n%s\n---\n", templateContent)
	}
	if strings.TrimSpace(instructions) != "" {
		fmt.Fprintf(&b, "\nAdditional instructions:\n%s\n", instructions)
	}
	b.WriteString("\nReturn only the document text, no commentary.")
	return b.String()
}

// getDraftChecked loads a draft and verifies both case access and that
// the draft actually belongs to the case in the URL.
func (s *Service) getDraftChecked(ctx context.Context, session Session, caseID, draftID string) (store.Draft, error) {
	if err := s.rules.DraftAccess(ctx, caseID, session.UserID); err != nil {
		return store.Draft{}, wrapAccessError(err)
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return store.Draft{}, wrapAccessError(err)
	}
	if draft.CaseID != caseID {
		return store.Draft{}, errDenied()
	}
	return draft, nil
}

// SaveDraft is the one-way draft-to-saved transition. Saving an
// already-saved draft returns its current state unchanged.
func (s *Service) SaveDraft(ctx context.Context, session Session, caseID, draftID string) (map[string]any, error) {
	existing, err := s.getDraftChecked(ctx, session, caseID, draftID)
	if err != nil {
		return nil, err
	}
	if existing.Status == store.DraftStatusSaved {
		return draftToMap(existing), nil
	}

	draft, transitioned, err := s.store.SaveDraft(ctx, draftID, session.UserID)
	if err != nil {
		return nil, wrapAccessError(err)
	}
	// A concurrent save may have won between the status check and the
	// guarded UPDATE; only the winner commits and notifies.
	if !transitioned {
		return draftToMap(draft), nil
	}

	if s.archive != nil {
		if _, err := s.archive.CommitDraft(caseID, draft.Version, draft.Content, session.UserName); err != nil {
			s.log.Warn().Err(err).Str("case_id", caseID).Int("version", draft.Version).Msg("archive commit failed")
		}
	}
	s.notifyDraftSaved(ctx, session, caseID, draft.Version)

	return draftToMap(draft), nil
}

// DeleteVersion removes one draft version. Remaining versions keep
// their numbers; gaps are expected.
func (s *Service) DeleteVersion(ctx context.Context, session Session, caseID, draftID string) error {
	if _, err := s.getDraftChecked(ctx, session, caseID, draftID); err != nil {
		return err
	}
	removed, err := s.store.DeleteDraft(ctx, draftID)
	if err != nil {
		return err
	}
	if !removed {
		return errDenied()
	}
	if s.search != nil {
		s.search.DeleteDraft(draftID)
	}
	return nil
}

// EditDraftContent rewrites the rendered content of an existing version
// in place. This is the one mutation that does not allocate a new
// version number.
func (s *Service) EditDraftContent(ctx context.Context, session Session, caseID, draftID, content string) (map[string]any, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errValidation("content is required")
	}
	if _, err := s.getDraftChecked(ctx, session, caseID, draftID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateDraftContent(ctx, draftID, content)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errDenied()
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, wrapAccessError(err)
	}
	if s.search != nil {
		item, err := s.store.GetCase(ctx, caseID)
		if err == nil {
			s.search.IndexDraft(search.DraftRecord{
				ID: draft.ID, Content: draft.Content, Version: draft.Version,
				Status: draft.Status, CaseID: draft.CaseID, OrgID: item.OrgID,
			})
		}
	}
	return draftToMap(draft), nil
}

// GetCurrentDraft returns the highest-numbered version, or null when
// the case has no drafts yet.
func (s *Service) GetCurrentDraft(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	if err := s.rules.DraftAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	draft, err := s.store.GetCurrentDraft(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, nil
	}
	return draftToMap(*draft), nil
}

// ListVersions returns all draft versions, newest first.
func (s *Service) ListVersions(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if err := s.rules.DraftAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	items, err := s.store.ListDrafts(ctx, caseID)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, draftToMap(item))
	}
	return result, nil
}

func (s *Service) GetDraftVersion(ctx context.Context, session Session, caseID, draftID string) (map[string]any, error) {
	draft, err := s.getDraftChecked(ctx, session, caseID, draftID)
	if err != nil {
		return nil, err
	}
	return draftToMap(draft), nil
}

// ExportDraft renders a draft version to PDF or DOCX.
func (s *Service) ExportDraft(ctx context.Context, session Session, caseID, draftID string, format export.Format) (*export.Result, error) {
	draft, err := s.getDraftChecked(ctx, session, caseID, draftID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, wrapAccessError(err)
	}

	letter := export.Letter{
		CaseTitle: item.Title,
		Version:   draft.Version,
		Content:   draft.Content,
	}
	if draft.SavedBy != nil {
		if saver, err := s.store.GetUserByID(ctx, *draft.SavedBy); err == nil {
			letter.Author = saver.DisplayName
		}
	}
	if draft.SavedAt != nil {
		letter.SavedAt = *draft.SavedAt
	}

	result, err := s.export.Export(letter, format)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ArchiveHistory lists the git commits recorded for a case's saved
// drafts.
func (s *Service) ArchiveHistory(ctx context.Context, session Session, caseID string, limit int) ([]map[string]any, error) {
	if err := s.rules.DraftAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	if s.archive == nil {
		return []map[string]any{}, nil
	}
	commits, err := s.archive.History(caseID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		result = append(result, map[string]any{
			"hash":      c.Hash,
			"message":   c.Message,
			"author":    c.Author,
			"createdAt": c.CreatedAt,
		})
	}
	return result, nil
}

// ArchiveDraftAt reads the content of a saved draft as it was at a
// given archive commit.
func (s *Service) ArchiveDraftAt(ctx context.Context, session Session, caseID, hash string, version int) (map[string]any, error) {
	if err := s.rules.DraftAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	if s.archive == nil {
		return nil, errDenied()
	}
	content, err := s.archive.DraftAtCommit(caseID, hash, version)
	if err != nil {
		return nil, errDenied()
	}
	return map[string]any{
		"caseId":  caseID,
		"hash":    hash,
		"version": version,
		"content": content,
	}, nil
}

func (s *Service) notifyDraftSaved(ctx context.Context, session Session, caseID string, version int) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return
	}
	members, err := s.store.ListMemberships(ctx, caseID)
	if err != nil {
		return
	}
	caseURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/cases/" + caseID
	for _, member := range members {
		if member.UserID == session.UserID || member.UserEmail == "" {
			continue
		}
		member := member
		go func() {
			if err := s.email.SendDraftSavedEmail(member.UserEmail, member.UserName, item.Title, version, session.UserName, caseURL); err != nil {
				s.log.Warn().Err(err).Str("case_id", caseID).Msg("draft saved email failed")
			}
		}()
	}
}
