package store

import (
	"encoding/json"
	"time"
)

type Organization struct {
	ID         string
	Name       string
	InviteCode string
	CreatedAt  time.Time
}

// User is a profile row. Every user belongs to exactly one organization;
// OrgID never changes after creation.
type User struct {
	ID           string
	OrgID        string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Case struct {
	ID        string
	OrgID     string
	CreatedBy string
	Title     string
	Contact   json.RawMessage
	Metadata  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CaseMembership struct {
	CaseID  string
	UserID  string
	AddedBy string
	AddedAt time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
}

// Template is organization-wide and mutable in place: every member of
// the organization sees edits immediately.
type Template struct {
	ID        string
	OrgID     string
	Name      string
	Type      string
	Content   string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CaseSnapshot is an immutable copy of a template taken at the moment a
// case first used it. Later template edits never propagate here.
type CaseSnapshot struct {
	ID         string
	CaseID     string
	TemplateID *string
	Name       string
	Type       string
	Content    string
	CreatedBy  string
	CreatedAt  time.Time
}

const (
	DraftStatusDraft = "draft"
	DraftStatusSaved = "saved"
)

// Draft is a numbered rendering of a case's document. Version numbers
// are unique and strictly increasing per case, starting at 1; deleting
// a draft leaves a gap, it never renumbers the rest.
type Draft struct {
	ID         string
	CaseID     string
	Version    int
	Status     string
	Content    string
	SnapshotID *string
	CreatedBy  string
	CreatedAt  time.Time
	SavedBy    *string
	SavedAt    *time.Time
}

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is private to its owner even though the case is shared.
type Message struct {
	ID        string
	CaseID    string
	UserID    string
	Sender    string
	Body      string
	CreatedAt time.Time
}

type Attachment struct {
	ID          string
	CaseID      string
	FileName    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}
