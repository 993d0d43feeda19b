package app

import (
	"context"
	"encoding/json"
	"strings"

	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

type CaseInput struct {
	Title    string          `json:"title"`
	Contact  json.RawMessage `json:"contact"`
	Metadata json.RawMessage `json:"metadata"`
}

func caseToMap(item store.Case) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"orgId":     item.OrgID,
		"createdBy": item.CreatedBy,
		"title":     item.Title,
		"contact":   item.Contact,
		"metadata":  item.Metadata,
		"createdAt": item.CreatedAt,
		"updatedAt": item.UpdatedAt,
	}
}

// CreateCase inserts a case owned by the caller's organization. The
// case row and the creator's membership row land in one transaction, so
// there is no window where the case exists without its creator on it.
func (s *Service) CreateCase(ctx context.Context, session Session, input CaseInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required")
	}

	item := store.Case{
		ID:        util.NewID("case"),
		OrgID:     session.OrgID,
		CreatedBy: session.UserID,
		Title:     title,
		Contact:   input.Contact,
		Metadata:  input.Metadata,
	}
	if err := s.store.CreateCase(ctx, item); err != nil {
		return nil, err
	}

	created, err := s.store.GetCase(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexCase(search.CaseRecord{ID: created.ID, Title: created.Title, OrgID: created.OrgID})
	}
	if s.archive != nil {
		if err := s.archive.EnsureCaseRepo(created.ID, session.UserName); err != nil {
			s.log.Warn().Err(err).Str("case_id", created.ID).Msg("archive init failed")
		}
	}

	return caseToMap(created), nil
}

func (s *Service) GetCase(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	if err := s.rules.CaseAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, wrapAccessError(err)
	}
	return caseToMap(item), nil
}

// ListCases returns only the cases the caller created or was added to,
// never the whole organization.
func (s *Service) ListCases(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListCasesForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, caseToMap(item))
	}
	return result, nil
}

func (s *Service) UpdateCase(ctx context.Context, session Session, caseID string, input CaseInput) (map[string]any, error) {
	if err := s.rules.CaseAccess(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required")
	}
	if err := s.store.UpdateCase(ctx, caseID, title, input.Contact, input.Metadata); err != nil {
		return nil, wrapAccessError(err)
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, wrapAccessError(err)
	}
	if s.search != nil {
		s.search.IndexCase(search.CaseRecord{ID: item.ID, Title: item.Title, OrgID: item.OrgID})
	}
	return caseToMap(item), nil
}

func (s *Service) DeleteCase(ctx context.Context, session Session, caseID string) error {
	if err := s.rules.CaseAccess(ctx, caseID, session.UserID); err != nil {
		return wrapAccessError(err)
	}
	if err := s.store.DeleteCase(ctx, caseID); err != nil {
		return wrapAccessError(err)
	}
	if s.search != nil {
		s.search.DeleteCase(caseID)
		s.search.DeleteDraftsByCase(caseID)
	}
	return nil
}

func membershipToMap(m store.CaseMembership) map[string]any {
	return map[string]any{
		"caseId":    m.CaseID,
		"userId":    m.UserID,
		"userName":  m.UserName,
		"userEmail": m.UserEmail,
		"addedBy":   m.AddedBy,
		"addedAt":   m.AddedAt,
	}
}

// ListMembers is visible to any organization-mate, not only case
// members, so colleagues can see who to ask for access.
func (s *Service) ListMembers(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	if err := s.rules.MembershipRead(ctx, caseID, session.UserID); err != nil {
		return nil, wrapAccessError(err)
	}
	items, err := s.store.ListMemberships(ctx, caseID)
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, membershipToMap(item))
	}
	return result, nil
}

// AddMember grants case access to an organization-mate. Re-adding an
// existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, session Session, caseID, targetUserID string) (map[string]any, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, errValidation("userId is required")
	}
	if err := s.rules.MembershipChange(ctx, caseID, session.UserID, targetUserID); err != nil {
		return nil, wrapAccessError(err)
	}

	membership := store.CaseMembership{
		CaseID:  caseID,
		UserID:  targetUserID,
		AddedBy: session.UserID,
	}
	if err := s.store.AddMembership(ctx, membership); err != nil {
		return nil, err
	}

	s.notifyMembershipAdded(ctx, session, caseID, targetUserID)

	return map[string]any{"caseId": caseID, "userId": targetUserID, "ok": true}, nil
}

func (s *Service) RemoveMember(ctx context.Context, session Session, caseID, targetUserID string) error {
	if err := s.rules.MembershipChange(ctx, caseID, session.UserID, targetUserID); err != nil {
		return wrapAccessError(err)
	}
	if _, err := s.store.RemoveMembership(ctx, caseID, targetUserID); err != nil {
		return err
	}
	return nil
}

func (s *Service) notifyMembershipAdded(ctx context.Context, session Session, caseID, targetUserID string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	target, err := s.store.GetUserByID(ctx, targetUserID)
	if err != nil {
		return
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return
	}
	go func() {
		caseURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/cases/" + caseID
		if err := s.email.SendMembershipAddedEmail(target.Email, target.DisplayName, item.Title, session.UserName, caseURL); err != nil {
			s.log.Warn().Err(err).Str("case_id", caseID).Msg("membership email failed")
		}
	}()
}
