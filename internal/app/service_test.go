package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"casedesk/api/internal/archive"
	"casedesk/api/internal/config"
	"casedesk/api/internal/llm"
	"casedesk/api/internal/search"
	"casedesk/api/internal/store"
)

// memStore is an in-memory dataStore used by the service tests. It
// mirrors the transactional guarantees of the real store: creating a
// case also records the creator's membership, and draft version
// allocation can be forced into collisions via conflictsLeft.
type memStore struct {
	mu sync.Mutex

	users       map[string]store.User
	orgs        map[string]store.Organization
	cases       map[string]store.Case
	memberships map[string]map[string]store.CaseMembership
	templates   map[string]store.Template
	snapshots   map[string]store.CaseSnapshot
	drafts      map[string]store.Draft
	messages    map[string]store.Message
	attachments map[string]store.Attachment
	refresh     map[string]string
	revokedJTI  map[string]bool

	conflictsLeft int
	insertCalls   int
	savePreempted bool
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]store.User{},
		orgs:        map[string]store.Organization{},
		cases:       map[string]store.Case{},
		memberships: map[string]map[string]store.CaseMembership{},
		templates:   map[string]store.Template{},
		snapshots:   map[string]store.CaseSnapshot{},
		drafts:      map[string]store.Draft{},
		messages:    map[string]store.Message{},
		attachments: map[string]store.Attachment{},
		refresh:     map[string]string{},
		revokedJTI:  map[string]bool{},
	}
}

func (m *memStore) addUser(id, orgID, name string) {
	m.users[id] = store.User{ID: id, OrgID: orgID, DisplayName: name, Email: id + "@example.com"}
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) OrganizationOf(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return user.OrgID, nil
}

func (m *memStore) GetOrganization(_ context.Context, orgID string) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (m *memStore) CreateCase(_ context.Context, item store.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.cases[item.ID] = item
	m.memberships[item.ID] = map[string]store.CaseMembership{
		item.CreatedBy: {CaseID: item.ID, UserID: item.CreatedBy, AddedBy: item.CreatedBy, AddedAt: item.CreatedAt},
	}
	return nil
}

func (m *memStore) GetCase(_ context.Context, caseID string) (store.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.cases[caseID]
	if !ok {
		return store.Case{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ListCasesForUser(_ context.Context, userID string) ([]store.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Case, 0)
	for caseID, members := range m.memberships {
		if _, ok := members[userID]; ok {
			items = append(items, m.cases[caseID])
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) UpdateCase(_ context.Context, caseID, title string, contact, metadata json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.cases[caseID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Title = title
	item.Contact = contact
	item.Metadata = metadata
	item.UpdatedAt = time.Now()
	m.cases[caseID] = item
	return nil
}

func (m *memStore) DeleteCase(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[caseID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.cases, caseID)
	delete(m.memberships, caseID)
	return nil
}

func (m *memStore) CaseAccessInfo(_ context.Context, caseID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.cases[caseID]
	if !ok {
		return "", "", sql.ErrNoRows
	}
	return item.CreatedBy, item.OrgID, nil
}

func (m *memStore) HasMembership(_ context.Context, caseID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.memberships[caseID][userID]
	return ok, nil
}

func (m *memStore) AddMembership(_ context.Context, membership store.CaseMembership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.memberships[membership.CaseID]
	if !ok {
		return sql.ErrNoRows
	}
	if _, exists := members[membership.UserID]; exists {
		return nil
	}
	membership.AddedAt = time.Now()
	members[membership.UserID] = membership
	return nil
}

func (m *memStore) RemoveMembership(_ context.Context, caseID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.memberships[caseID]
	if _, ok := members[userID]; !ok {
		return false, nil
	}
	delete(members, userID)
	return true, nil
}

func (m *memStore) ListMemberships(_ context.Context, caseID string) ([]store.CaseMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.CaseMembership, 0)
	for _, membership := range m.memberships[caseID] {
		if user, ok := m.users[membership.UserID]; ok {
			membership.UserName = user.DisplayName
			membership.UserEmail = user.Email
		}
		items = append(items, membership)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UserID < items[j].UserID })
	return items, nil
}

func (m *memStore) InsertTemplate(_ context.Context, item store.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.templates[item.ID] = item
	return nil
}

func (m *memStore) GetTemplate(_ context.Context, templateID string) (store.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[templateID]
	if !ok {
		return store.Template{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ListTemplates(_ context.Context, orgID string) ([]store.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Template, 0)
	for _, item := range m.templates {
		if item.OrgID == orgID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) UpdateTemplate(_ context.Context, templateID, name, templateType, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.templates[templateID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Name = name
	item.Type = templateType
	item.Content = content
	item.UpdatedAt = time.Now()
	m.templates[templateID] = item
	return nil
}

func (m *memStore) DeleteTemplate(_ context.Context, templateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[templateID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.templates, templateID)
	return nil
}

func (m *memStore) GetOrCreateSnapshot(_ context.Context, snap store.CaseSnapshot) (store.CaseSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.snapshots {
		if existing.CaseID == snap.CaseID && existing.TemplateID != nil && snap.TemplateID != nil && *existing.TemplateID == *snap.TemplateID {
			return existing, nil
		}
	}
	snap.CreatedAt = time.Now()
	m.snapshots[snap.ID] = snap
	return snap, nil
}

func (m *memStore) GetSnapshot(_ context.Context, snapshotID string) (store.CaseSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[snapshotID]
	if !ok {
		return store.CaseSnapshot{}, sql.ErrNoRows
	}
	return snap, nil
}

func (m *memStore) ListSnapshots(_ context.Context, caseID string) ([]store.CaseSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.CaseSnapshot, 0)
	for _, snap := range m.snapshots {
		if snap.CaseID == caseID {
			items = append(items, snap)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) maxVersionLocked(caseID string) int {
	max := 0
	for _, draft := range m.drafts {
		if draft.CaseID == caseID && draft.Version > max {
			max = draft.Version
		}
	}
	return max
}

func (m *memStore) NextVersion(_ context.Context, caseID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxVersionLocked(caseID) + 1, nil
}

func (m *memStore) InsertDraftNextVersion(_ context.Context, item store.Draft) (store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return store.Draft{}, fmt.Errorf("insert draft: %w", store.ErrVersionConflict)
	}
	item.Version = m.maxVersionLocked(item.CaseID) + 1
	item.Status = store.DraftStatusDraft
	item.CreatedAt = time.Now()
	m.drafts[item.ID] = item
	return item, nil
}

func (m *memStore) GetDraft(_ context.Context, draftID string) (store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.drafts[draftID]
	if !ok {
		return store.Draft{}, sql.ErrNoRows
	}
	return draft, nil
}

func (m *memStore) GetCurrentDraft(_ context.Context, caseID string) (*store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current *store.Draft
	for _, draft := range m.drafts {
		if draft.CaseID != caseID {
			continue
		}
		draft := draft
		if current == nil || draft.Version > current.Version {
			current = &draft
		}
	}
	return current, nil
}

func (m *memStore) ListDrafts(_ context.Context, caseID string) ([]store.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Draft, 0)
	for _, draft := range m.drafts {
		if draft.CaseID == caseID {
			items = append(items, draft)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Version > items[j].Version })
	return items, nil
}

func (m *memStore) SaveDraft(_ context.Context, draftID, savedBy string) (store.Draft, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.drafts[draftID]
	if !ok {
		return store.Draft{}, false, sql.ErrNoRows
	}
	if m.savePreempted && draft.Status != store.DraftStatusSaved {
		// Another request saved the row between the caller's status
		// check and this update.
		other := "someone-else"
		now := time.Now()
		draft.Status = store.DraftStatusSaved
		draft.SavedBy = &other
		draft.SavedAt = &now
		m.drafts[draftID] = draft
		return draft, false, nil
	}
	if draft.Status == store.DraftStatusSaved {
		return draft, false, nil
	}
	now := time.Now()
	draft.Status = store.DraftStatusSaved
	draft.SavedBy = &savedBy
	draft.SavedAt = &now
	m.drafts[draftID] = draft
	return draft, true, nil
}

func (m *memStore) UpdateDraftContent(_ context.Context, draftID, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.drafts[draftID]
	if !ok {
		return false, nil
	}
	draft.Content = content
	m.drafts[draftID] = draft
	return true, nil
}

func (m *memStore) DeleteDraft(_ context.Context, draftID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[draftID]; !ok {
		return false, nil
	}
	delete(m.drafts, draftID)
	return true, nil
}

func (m *memStore) InsertMessage(_ context.Context, item store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = time.Now()
	m.messages[item.ID] = item
	return nil
}

func (m *memStore) ListMessagesForOwner(_ context.Context, caseID, userID string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Message, 0)
	for _, msg := range m.messages {
		if msg.CaseID == caseID && msg.UserID == userID {
			items = append(items, msg)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) GetMessage(_ context.Context, messageID string) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return store.Message{}, sql.ErrNoRows
	}
	return msg, nil
}

func (m *memStore) DeleteMessage(_ context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return false, nil
	}
	delete(m.messages, messageID)
	return true, nil
}

func (m *memStore) InsertAttachment(_ context.Context, item store.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = time.Now()
	m.attachments[item.ID] = item
	return nil
}

func (m *memStore) GetAttachment(_ context.Context, attachmentID string) (store.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.attachments[attachmentID]
	if !ok {
		return store.Attachment{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) ListAttachments(_ context.Context, caseID string) ([]store.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Attachment, 0)
	for _, item := range m.attachments {
		if item.CaseID == caseID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedJTI[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokedJTI[jti], nil
}

func (m *memStore) Ping(_ context.Context) error { return nil }

// fakeGen records prompts and serves canned responses.
type fakeGen struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	next    string
	err     error
}

func (f *fakeGen) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.next == "" {
		return "generated content", nil
	}
	return f.next, nil
}

type fakeArchive struct {
	mu      sync.Mutex
	repos   []string
	commits []string
}

func (f *fakeArchive) EnsureCaseRepo(caseID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos = append(f.repos, caseID)
	return nil
}

func (f *fakeArchive) CommitDraft(caseID string, version int, _, _ string) (archive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, fmt.Sprintf("%s/v%d", caseID, version))
	return archive.CommitInfo{Hash: "abc123", Message: fmt.Sprintf("Save draft v%d", version)}, nil
}

func (f *fakeArchive) History(string, int) ([]archive.CommitInfo, error) {
	return []archive.CommitInfo{}, nil
}

func (f *fakeArchive) DraftAtCommit(string, string, int) (string, error) {
	return "archived content", nil
}

// fakeSearch records index traffic and answers queries with canned
// hits, so visibility filtering can be tested without a backend.
type fakeSearch struct {
	mu            sync.Mutex
	lastQuery     search.Query
	hits          []search.Result
	deletedCases  []string
	deletedDrafts []string
	purgedCases   []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return search.Response{Results: append([]search.Result{}, f.hits...), Total: len(f.hits), Query: q.Text}
}

func (f *fakeSearch) IndexCase(search.CaseRecord)         {}
func (f *fakeSearch) IndexTemplate(search.TemplateRecord) {}
func (f *fakeSearch) IndexDraft(search.DraftRecord)       {}

func (f *fakeSearch) DeleteCase(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedCases = append(f.deletedCases, id)
}

func (f *fakeSearch) DeleteTemplate(string) {}

func (f *fakeSearch) DeleteDraft(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedDrafts = append(f.deletedDrafts, id)
}

func (f *fakeSearch) DeleteDraftsByCase(caseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgedCases = append(f.purgedCases, caseID)
}

func newTestService() (*Service, *memStore, *fakeGen, *fakeArchive) {
	st := newMemStore()
	st.addUser("alice", "org-acme", "Alice")
	st.addUser("bob", "org-acme", "Bob")
	st.addUser("mallory", "org-rival", "Mallory")

	gen := &fakeGen{}
	svc := New(config.Load(), st, gen, zerolog.Nop())
	arch := &fakeArchive{}
	svc.SetArchive(arch)
	return svc, st, gen, arch
}

func sessionFor(userID, orgID, name string) Session {
	return Session{UserID: userID, OrgID: orgID, UserName: name}
}

func mustCreateCase(t *testing.T, svc *Service, session Session, title string) string {
	t.Helper()
	payload, err := svc.CreateCase(context.Background(), session, CaseInput{Title: title})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return payload["id"].(string)
}

func TestCreateCaseMakesCreatorAMember(t *testing.T) {
	svc, _, _, arch := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")

	caseID := mustCreateCase(t, svc, alice, "Eviction notice")

	if _, err := svc.GetCase(ctx, alice, caseID); err != nil {
		t.Fatalf("creator should access own case: %v", err)
	}

	members, err := svc.ListMembers(ctx, alice, caseID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 || members[0]["userId"] != "alice" {
		t.Fatalf("expected creator as sole member, got %v", members)
	}

	if len(arch.repos) != 1 || arch.repos[0] != caseID {
		t.Fatalf("expected archive repo init for %s, got %v", caseID, arch.repos)
	}
}

func TestCreateCaseRequiresTitle(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.CreateCase(context.Background(), sessionFor("alice", "org-acme", "Alice"), CaseInput{Title: "   "})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestUniformDenialHidesExistence(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	mallory := sessionFor("mallory", "org-rival", "Mallory")
	bob := sessionFor("bob", "org-acme", "Bob")

	caseID := mustCreateCase(t, svc, alice, "Confidential matter")

	cross := func(name string, err error) {
		t.Helper()
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			t.Fatalf("%s: expected DomainError, got %v", name, err)
		}
		if domainErr.Status != 404 || domainErr.Message != "Not found or access denied" {
			t.Fatalf("%s: expected uniform denial, got %d %q", name, domainErr.Status, domainErr.Message)
		}
	}

	_, err := svc.GetCase(ctx, mallory, caseID)
	cross("other org", err)

	_, err = svc.GetCase(ctx, bob, caseID)
	cross("same org non-member", err)

	_, err = svc.GetCase(ctx, alice, "case_does_not_exist")
	cross("missing id", err)
}

func TestAddMemberIdempotentAndCrossOrgRejected(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Contract review")

	if _, err := svc.AddMember(ctx, alice, caseID, "bob"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if _, err := svc.AddMember(ctx, alice, caseID, "bob"); err != nil {
		t.Fatalf("re-adding a member should be a no-op: %v", err)
	}
	members, err := svc.ListMembers(ctx, alice, caseID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	_, err = svc.AddMember(ctx, alice, caseID, "mallory")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("cross-org member add should be a validation error, got %v", err)
	}
}

func TestOrgMateCanReadMembersButNotCase(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	bob := sessionFor("bob", "org-acme", "Bob")
	caseID := mustCreateCase(t, svc, alice, "Demand letter")

	if _, err := svc.ListMembers(ctx, bob, caseID); err != nil {
		t.Fatalf("org-mate should be able to list members: %v", err)
	}
	if _, err := svc.GetCase(ctx, bob, caseID); err == nil {
		t.Fatalf("org-mate without membership should not read the case")
	}
}

func TestSnapshotPinsTemplateContent(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Lease dispute")

	tpl, err := svc.CreateTemplate(ctx, alice, TemplateInput{Name: "Demand letter", Content: "original body"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	tplID := tpl["id"].(string)

	first, err := svc.GetOrCreateSnapshot(ctx, alice, caseID, tplID)
	if err != nil {
		t.Fatalf("GetOrCreateSnapshot: %v", err)
	}

	if _, err := svc.UpdateTemplate(ctx, alice, tplID, TemplateInput{Name: "Demand letter", Content: "edited body"}); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}

	second, err := svc.GetOrCreateSnapshot(ctx, alice, caseID, tplID)
	if err != nil {
		t.Fatalf("GetOrCreateSnapshot (repeat): %v", err)
	}

	if first["id"] != second["id"] {
		t.Fatalf("repeat get-or-create returned a different snapshot: %v vs %v", first["id"], second["id"])
	}
	if second["content"] != "original body" {
		t.Fatalf("snapshot content must not follow template edits, got %q", second["content"])
	}
}

func TestDraftLifecycle(t *testing.T) {
	svc, _, gen, arch := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Eviction notice")

	tpl, err := svc.CreateTemplate(ctx, alice, TemplateInput{Name: "Notice", Content: "template body"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	gen.next = "first rendering"
	v1, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{TemplateID: tpl["id"].(string)})
	if err != nil {
		t.Fatalf("GenerateDraft: %v", err)
	}
	if v1["version"] != 1 {
		t.Fatalf("first draft should be version 1, got %v", v1["version"])
	}
	if !strings.Contains(gen.prompts[0], "template body") {
		t.Fatalf("prompt should carry the snapshot content, got %q", gen.prompts[0])
	}

	saved, err := svc.SaveDraft(ctx, alice, caseID, v1["id"].(string))
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if saved["status"] != store.DraftStatusSaved {
		t.Fatalf("expected saved status, got %v", saved["status"])
	}
	if len(arch.commits) != 1 {
		t.Fatalf("expected one archive commit, got %v", arch.commits)
	}

	// Saving again is a no-op and does not recommit.
	savedAgain, err := svc.SaveDraft(ctx, alice, caseID, v1["id"].(string))
	if err != nil {
		t.Fatalf("repeat SaveDraft: %v", err)
	}
	if savedAgain["savedAt"].(*time.Time) == nil {
		t.Fatalf("repeat save lost savedAt")
	}
	if len(arch.commits) != 1 {
		t.Fatalf("repeat save must not recommit, got %v", arch.commits)
	}

	gen.next = "second rendering"
	v2, err := svc.RegenerateDraft(ctx, alice, caseID, GenerateInput{})
	if err != nil {
		t.Fatalf("RegenerateDraft: %v", err)
	}
	if v2["version"] != 2 {
		t.Fatalf("regenerate should claim version 2, got %v", v2["version"])
	}
	if v1["content"] == v2["content"] {
		t.Fatalf("regenerate must not touch the previous version")
	}

	if err := svc.DeleteVersion(ctx, alice, caseID, v1["id"].(string)); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	versions, err := svc.ListVersions(ctx, alice, caseID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0]["version"] != 2 {
		t.Fatalf("expected only version 2 to remain, got %v", versions)
	}

	// The gap stays: the next generate claims 3, not 1.
	gen.next = "third rendering"
	v3, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{})
	if err != nil {
		t.Fatalf("GenerateDraft after delete: %v", err)
	}
	if v3["version"] != 3 {
		t.Fatalf("deleted versions must leave gaps, got %v", v3["version"])
	}

	current, err := svc.GetCurrentDraft(ctx, alice, caseID)
	if err != nil {
		t.Fatalf("GetCurrentDraft: %v", err)
	}
	if current["version"] != 3 {
		t.Fatalf("current draft should be version 3, got %v", current["version"])
	}
}

func TestGenerateRetriesVersionCollisions(t *testing.T) {
	svc, st, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Settlement offer")

	st.conflictsLeft = 2
	draft, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{})
	if err != nil {
		t.Fatalf("generate should survive two collisions: %v", err)
	}
	if draft["version"] != 1 {
		t.Fatalf("expected version 1, got %v", draft["version"])
	}
	if st.insertCalls != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", st.insertCalls)
	}
}

func TestGenerateGivesUpAfterBoundedRetries(t *testing.T) {
	svc, st, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Settlement offer")

	st.conflictsLeft = versionInsertRetries
	_, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 409 {
		t.Fatalf("exhausted retries should be a 409, got %v", err)
	}
}

func TestProviderFailureIsNeverRetried(t *testing.T) {
	svc, st, gen, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Settlement offer")

	gen.err = &llm.ProviderError{StatusCode: 500, Message: "upstream overloaded"}
	_, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 502 {
		t.Fatalf("provider failure should map to 502, got %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("provider must be called exactly once, got %d", gen.calls)
	}
	if st.insertCalls != 0 {
		t.Fatalf("no draft row should be written on provider failure")
	}
}

func TestEditDraftContentKeepsVersion(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Lease dispute")

	draft, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{})
	if err != nil {
		t.Fatalf("GenerateDraft: %v", err)
	}

	edited, err := svc.EditDraftContent(ctx, alice, caseID, draft["id"].(string), "hand-tuned text")
	if err != nil {
		t.Fatalf("EditDraftContent: %v", err)
	}
	if edited["version"] != draft["version"] {
		t.Fatalf("in-place edit must not allocate a version, got %v", edited["version"])
	}
	if edited["content"] != "hand-tuned text" {
		t.Fatalf("content not updated: %v", edited["content"])
	}

	if _, err := svc.EditDraftContent(ctx, alice, caseID, draft["id"].(string), "  "); err == nil {
		t.Fatalf("blank content must be rejected")
	}
}

func TestDraftFromAnotherCaseIsInvisible(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseA := mustCreateCase(t, svc, alice, "Case A")
	caseB := mustCreateCase(t, svc, alice, "Case B")

	draft, err := svc.GenerateDraft(ctx, alice, caseA, GenerateInput{})
	if err != nil {
		t.Fatalf("GenerateDraft: %v", err)
	}

	_, err = svc.SaveDraft(ctx, alice, caseB, draft["id"].(string))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("draft addressed through the wrong case must look missing, got %v", err)
	}
}

func TestMessagesArePrivateToTheirOwner(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	bob := sessionFor("bob", "org-acme", "Bob")
	caseID := mustCreateCase(t, svc, alice, "Shared case")
	if _, err := svc.AddMember(ctx, alice, caseID, "bob"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	posted, err := svc.PostMessage(ctx, alice, caseID, "note to self")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if _, err := svc.PostMessage(ctx, bob, caseID, "bob's note"); err != nil {
		t.Fatalf("PostMessage (bob): %v", err)
	}

	bobMessages, err := svc.ListMessages(ctx, bob, caseID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(bobMessages) != 1 || bobMessages[0]["body"] != "bob's note" {
		t.Fatalf("bob must only see his own thread, got %v", bobMessages)
	}

	// Bob cannot delete Alice's message even as a case member.
	err = svc.DeleteMessage(ctx, bob, caseID, posted["id"].(string))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("foreign message delete must look missing, got %v", err)
	}
	if err := svc.DeleteMessage(ctx, alice, caseID, posted["id"].(string)); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestAskAssistantPostsBothSides(t *testing.T) {
	svc, _, gen, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	caseID := mustCreateCase(t, svc, alice, "Shared case")

	gen.next = "you should cite clause 4"
	pair, err := svc.AskAssistant(ctx, alice, caseID, "which clause applies?")
	if err != nil {
		t.Fatalf("AskAssistant: %v", err)
	}
	if len(pair) != 2 {
		t.Fatalf("expected question and reply, got %d messages", len(pair))
	}
	if pair[0]["sender"] != store.SenderUser || pair[1]["sender"] != store.SenderBot {
		t.Fatalf("unexpected senders: %v %v", pair[0]["sender"], pair[1]["sender"])
	}
}

func TestSearchWithoutBackendReturnsEmpty(t *testing.T) {
	svc, _, _, _ := newTestService()
	resp := svc.Search(context.Background(), sessionFor("alice", "org-acme", "Alice"), search.Query{Text: "anything", OrgID: "org-rival"})
	if len(resp.Results) != 0 {
		t.Fatalf("search without a backend should return empty results")
	}
	if resp.Query != "anything" {
		t.Fatalf("response should echo the query, got %q", resp.Query)
	}
}

func TestSearchDropsHitsFromNonMemberCases(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")
	bob := sessionFor("bob", "org-acme", "Bob")

	caseID := mustCreateCase(t, svc, alice, "Confidential matter")

	fs := &fakeSearch{hits: []search.Result{
		{Type: search.ResultCase, ID: caseID, Title: "Confidential matter", CaseID: caseID, OrgID: "org-acme"},
		{Type: search.ResultDraft, ID: "drf_1", Title: "v1", Snippet: "the confidential settlement sum", CaseID: caseID, OrgID: "org-acme"},
		{Type: search.ResultTemplate, ID: "tpl_1", Title: "Confidentiality notice", OrgID: "org-acme"},
	}}
	svc.SetSearch(fs)

	// A same-org user who is not a member of the case sees only the
	// org-wide template hit.
	resp := svc.Search(ctx, bob, search.Query{Text: "confidential"})
	if len(resp.Results) != 1 || resp.Results[0].Type != search.ResultTemplate {
		t.Fatalf("non-member should only see template hits, got %+v", resp.Results)
	}
	if resp.Total != 1 {
		t.Fatalf("total should track visible hits, got %d", resp.Total)
	}
	if fs.lastQuery.UserID != "bob" || fs.lastQuery.OrgID != "org-acme" {
		t.Fatalf("query should carry the caller, got %+v", fs.lastQuery)
	}

	// The creator sees everything.
	resp = svc.Search(ctx, alice, search.Query{Text: "confidential"})
	if len(resp.Results) != 3 {
		t.Fatalf("member should see all hits, got %+v", resp.Results)
	}
}

func TestDeleteCasePurgesDraftDocuments(t *testing.T) {
	svc, _, gen, _ := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")

	caseID := mustCreateCase(t, svc, alice, "Doomed matter")
	gen.next = "draft body"
	if _, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{}); err != nil {
		t.Fatalf("GenerateDraft: %v", err)
	}

	fs := &fakeSearch{}
	svc.SetSearch(fs)

	if err := svc.DeleteCase(ctx, alice, caseID); err != nil {
		t.Fatalf("DeleteCase: %v", err)
	}
	if len(fs.deletedCases) != 1 || fs.deletedCases[0] != caseID {
		t.Fatalf("expected case document removed, got %v", fs.deletedCases)
	}
	if len(fs.purgedCases) != 1 || fs.purgedCases[0] != caseID {
		t.Fatalf("expected the case's draft documents removed, got %v", fs.purgedCases)
	}
}

func TestSaveDraftLoserDoesNotCommitOrNotify(t *testing.T) {
	svc, st, gen, arch := newTestService()
	ctx := context.Background()
	alice := sessionFor("alice", "org-acme", "Alice")

	caseID := mustCreateCase(t, svc, alice, "Contested save")
	gen.next = "contested body"
	draft, err := svc.GenerateDraft(ctx, alice, caseID, GenerateInput{})
	if err != nil {
		t.Fatalf("GenerateDraft: %v", err)
	}

	// Simulate a concurrent save landing between the status check and
	// the guarded update.
	st.savePreempted = true
	saved, err := svc.SaveDraft(ctx, alice, caseID, draft["id"].(string))
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if saved["status"] != store.DraftStatusSaved {
		t.Fatalf("expected saved status, got %v", saved["status"])
	}
	if got := *saved["savedBy"].(*string); got != "someone-else" {
		t.Fatalf("loser must keep the winner's stamp, got %q", got)
	}
	if len(arch.commits) != 0 {
		t.Fatalf("loser must not commit to the archive, got %v", arch.commits)
	}
}
