package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCase     ResultType = "case"
	ResultTemplate ResultType = "template"
	ResultDraft    ResultType = "draft"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	CaseID  string     `json:"caseId,omitempty"`
	OrgID   string     `json:"orgId"`
}

// Query describes a search request. OrgID is mandatory: results never
// cross organization boundaries regardless of backend. UserID scopes
// case and draft hits to cases the caller is a member of; templates
// stay visible to the whole organization.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	OrgID      string
	UserID     string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexCase(c CaseRecord) error
	IndexTemplate(t TemplateRecord) error
	IndexDraft(d DraftRecord) error
	DeleteCase(id string) error
	DeleteTemplate(id string) error
	DeleteDraft(id string) error
}

// CaseRecord is the data we index for a case.
type CaseRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	OrgID string `json:"orgId"`
}

// TemplateRecord is the data we index for a template.
type TemplateRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	OrgID   string `json:"orgId"`
}

// DraftRecord is the data we index for a draft version.
type DraftRecord struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Version int    `json:"version"`
	Status  string `json:"status"`
	CaseID  string `json:"caseId"`
	OrgID   string `json:"orgId"`
}
