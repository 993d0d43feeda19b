package app

import (
	"context"
	"strings"

	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type TemplateInput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

func templateToMap(item store.Template) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"orgId":     item.OrgID,
		"name":      item.Name,
		"type":      item.Type,
		"content":   item.Content,
		"createdBy": item.CreatedBy,
		"createdAt": item.CreatedAt,
		"updatedAt": item.UpdatedAt,
	}
}

func snapshotToMap(item store.CaseSnapshot) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"caseId":     item.CaseID,
		"templateId": item.TemplateID,
		"name":       item.Name,
		"type":       item.Type,
		"content":    item.Content,
		"createdBy":  item.CreatedBy,
		"createdAt":  item.CreatedAt,
	}
}

func (s *Service) CreateTemplate(ctx context.Context, session Session, input TemplateInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errValidation("name is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, errValidation("content is required")
	}

	item := store.Template{
		ID:        util.NewID("tpl"),
		OrgID:     session.OrgID,
		Name:      name,
		Type:      strings.TrimSpace(input.Type),
		Content:   input.Content,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertTemplate(ctx, item); err != nil {
		return nil, err
	}

	created, err := s.store.GetTemplate(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexTemplate(search.TemplateRecord{
			ID: created.ID, Name: created.Name, Type: created.Type,
			Content: created.Content, OrgID: created.OrgID,
		})
	}
	return templateToMap(created), nil
}

// ListTemplates is organization-wide: every member of the org sees the
// same shared library.
func (s *Service) ListTemplates(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListTemplates(ctx, session.OrgID)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, templateToMap(item))
	}
	return result, nil
}

// getTemplateChecked loads a template and applies the org rule; the
// combined lookup keeps cross-org probes indistinguishable from missing
// ids.
func (s *Service) getTemplateChecked(ctx context.Context, session Session, templateID string) (store.Template, error) {
	item, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return store.Template{}, wrapAccessError(err)
	}
	if err := s.rules.TemplateAccess(ctx, item.OrgID, session.UserID); err != nil {
		return store.Template{}, wrapAccessError(err)
	}
	return item, nil
}

func (s *Service) GetTemplate(ctx context.Context, session Session, templateID string) (map[string]any, error) {
	item, err := s.getTemplateChecked(ctx, session, templateID)
	if err != nil {
		return nil, err
	}
	return templateToMap(item), nil
}

// UpdateTemplate edits the shared template in place. Snapshots taken
// earlier keep their copied content.
func (s *Service) UpdateTemplate(ctx context.Context, session Session, templateID string, input TemplateInput) (map[string]any, error) {
	if _, err := s.getTemplateChecked(ctx, session, templateID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errValidation("name is required")
	}
	if err := s.store.UpdateTemplate(ctx, templateID, name, strings.TrimSpace(input.Type), input.Content); err != nil {
		return nil, wrapAccessError(err)
	}
	item, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, wrapAccessError(err)
	}
	if s.search != nil {
		s.search.IndexTemplate(search.TemplateRecord{
			ID: item.ID, Name: item.Name, Type: item.Type,
			Content: item.Content, OrgID: item.OrgID,
		})
	}
	return templateToMap(item), nil
}

func (s *Service) DeleteTemplate(ctx context.Context, session Session, templateID string) error {
	if _, err := s.getTemplateChecked(ctx, session, templateID); err != nil {
		return err
	}
	if err := s.store.DeleteTemplate(ctx, templateID); err != nil {
		return wrapAccessError(err)
	}
	if s.search != nil {
		s.search.DeleteTemplate(templateID)
	}
	return nil
}

// GetOrCreateSnapshot pins the template's current content to the case.
// Repeated calls for the same (case, template) pair return the same
// snapshot; later template edits never reach it.
func (s *Service) GetOrCreateSnapshot(ctx context.Context, session Session, caseID, templateID string) (map[string]any, error) {
	if err := s.rules.SnapshotAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	tpl, err := s.getTemplateChecked(ctx, session, templateID)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.GetOrCreateSnapshot(ctx, store.CaseSnapshot{
		ID:         util.NewID("snap"),
		CaseID:     caseID,
		TemplateID: &tpl.ID,
		Name:       tpl.Name,
		Type:       tpl.Type,
		Content:    tpl.Content,
		CreatedBy:  session.UserID,
	})
	if err != nil {
		return nil, err
	}
	return snapshotToMap(snap), nil
}

func (s *Service) ListSnapshots(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if err := s.rules.SnapshotAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	items, err := s.store.ListSnapshots(ctx, caseID)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, snapshotToMap(item))
	}
	return result, nil
}

func (s *Service) GetSnapshot(ctx context.Context, session Session, caseID, snapshotID string) (map[string]any, error) {
	if err := s.rules.SnapshotAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	item, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, wrapAccessError(err)
	}
	if item.CaseID != caseID {
		return nil, errDenied()
	}
	return snapshotToMap(item), nil
}
