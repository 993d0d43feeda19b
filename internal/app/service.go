package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"casedesk/api/internal/archive"
	"casedesk/api/internal/auth"
	"casedesk/api/internal/authpw"
	"casedesk/api/internal/authz"
	"casedesk/api/internal/blob"
	"casedesk/api/internal/config"
	"casedesk/api/internal/email"
	"casedesk/api/internal/export"
	"casedesk/api/internal/llm"
	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
	"casedesk/api/internal/util"
)

// Session is the resolved caller identity, threaded explicitly through
// every operation.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	OrgID        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	OrganizationOf(ctx context.Context, userID string) (string, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)

	CreateCase(ctx context.Context, item store.Case) error
	GetCase(ctx context.Context, caseID string) (store.Case, error)
	ListCasesForUser(ctx context.Context, userID string) ([]store.Case, error)
	UpdateCase(ctx context.Context, caseID, title string, contact, metadata json.RawMessage) error
	DeleteCase(ctx context.Context, caseID string) error
	CaseAccessInfo(ctx context.Context, caseID string) (creatorID, orgID string, err error)
	HasMembership(ctx context.Context, caseID, userID string) (bool, error)
	AddMembership(ctx context.Context, m store.CaseMembership) error
	RemoveMembership(ctx context.Context, caseID, userID string) (bool, error)
	ListMemberships(ctx context.Context, caseID string) ([]store.CaseMembership, error)

	InsertTemplate(ctx context.Context, item store.Template) error
	GetTemplate(ctx context.Context, templateID string) (store.Template, error)
	ListTemplates(ctx context.Context, orgID string) ([]store.Template, error)
	UpdateTemplate(ctx context.Context, templateID, name, templateType, content string) error
	DeleteTemplate(ctx context.Context, templateID string) error
	GetOrCreateSnapshot(ctx context.Context, snap store.CaseSnapshot) (store.CaseSnapshot, error)
	GetSnapshot(ctx context.Context, snapshotID string) (store.CaseSnapshot, error)
	ListSnapshots(ctx context.Context, caseID string) ([]store.CaseSnapshot, error)

	NextVersion(ctx context.Context, caseID string) (int, error)
	InsertDraftNextVersion(ctx context.Context, item store.Draft) (store.Draft, error)
	GetDraft(ctx context.Context, draftID string) (store.Draft, error)
	GetCurrentDraft(ctx context.Context, caseID string) (*store.Draft, error)
	ListDrafts(ctx context.Context, caseID string) ([]store.Draft, error)
	SaveDraft(ctx context.Context, draftID, savedBy string) (store.Draft, bool, error)
	UpdateDraftContent(ctx context.Context, draftID, content string) (bool, error)
	DeleteDraft(ctx context.Context, draftID string) (bool, error)

	InsertMessage(ctx context.Context, item store.Message) error
	ListMessagesForOwner(ctx context.Context, caseID, userID string) ([]store.Message, error)
	GetMessage(ctx context.Context, messageID string) (store.Message, error)
	DeleteMessage(ctx context.Context, messageID string) (bool, error)

	InsertAttachment(ctx context.Context, item store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListAttachments(ctx context.Context, caseID string) ([]store.Attachment, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	Ping(ctx context.Context) error
}

type textGenerator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

type draftArchive interface {
	EnsureCaseRepo(caseID, author string) error
	CommitDraft(caseID string, version int, content, author string) (archive.CommitInfo, error)
	History(caseID string, limit int) ([]archive.CommitInfo, error)
	DraftAtCommit(caseID, hash string, version int) (string, error)
}

// searchIndex is the search facade the service pushes documents to and
// queries through.
type searchIndex interface {
	Search(q search.Query) search.Response
	IndexCase(c search.CaseRecord)
	IndexTemplate(t search.TemplateRecord)
	IndexDraft(d search.DraftRecord)
	DeleteCase(id string)
	DeleteTemplate(id string)
	DeleteDraft(id string)
	DeleteDraftsByCase(caseID string)
}

// sessionCache is the fast path for refresh tokens; the Postgres rows
// remain the fallback when Redis is not configured.
type sessionCache interface {
	SaveRefreshSessionUser(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	rules  *authz.Engine
	gen    textGenerator
	export *export.Service
	log    zerolog.Logger

	archive  draftArchive
	search   searchIndex
	email    *email.Service
	blob     *blob.Service
	sessions sessionCache
	authpw   *authpw.Service
}

func New(cfg config.Config, st dataStore, gen textGenerator, logger zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  st,
		rules:  authz.NewEngine(st, st),
		gen:    gen,
		export: export.NewService(),
		log:    logger,
	}
}

func (s *Service) SetArchive(a draftArchive)           { s.archive = a }
func (s *Service) SetSearch(svc searchIndex)           { s.search = svc }
func (s *Service) SetEmail(svc *email.Service)         { s.email = svc }
func (s *Service) SetBlob(svc *blob.Service)           { s.blob = svc }
func (s *Service) SetSessionCache(c sessionCache)      { s.sessions = c }
func (s *Service) SetAuthPassword(svc *authpw.Service) { s.authpw = svc }

// AuthPasswordService exposes the signup/signin service to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues an access/refresh token pair for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.lookupRefresh(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.revokeRefresh(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.OrgID, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.saveRefresh(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		OrgID:        user.OrgID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		OrgID:     user.OrgID,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.revokeRefresh(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) saveRefresh(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	if s.sessions != nil {
		return s.sessions.SaveRefreshSessionUser(ctx, tokenHash, user, expiresAt)
	}
	return s.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s *Service) lookupRefresh(ctx context.Context, tokenHash string) (store.User, error) {
	if s.sessions != nil {
		return s.sessions.LookupRefreshSession(ctx, tokenHash)
	}
	return s.store.LookupRefreshSession(ctx, tokenHash)
}

func (s *Service) revokeRefresh(ctx context.Context, tokenHash string) error {
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

// Search runs a full-text query scoped to the caller's organization.
// Case and draft hits are further restricted to cases the caller can
// read; a hit the membership check cannot confirm is dropped.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) search.Response {
	q.OrgID = session.OrgID
	q.UserID = session.UserID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}

	resp := s.search.Search(q)
	visible := make([]search.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Type == search.ResultCase || r.Type == search.ResultDraft {
			member, err := s.rules.IsCaseMember(ctx, r.CaseID, session.UserID)
			if err != nil {
				s.log.Warn().Err(err).Str("case_id", r.CaseID).Msg("search membership check failed")
			}
			if !member {
				resp.Total--
				continue
			}
		}
		visible = append(visible, r)
	}
	resp.Results = visible
	if resp.Total < len(resp.Results) {
		resp.Total = len(resp.Results)
	}
	return resp
}
