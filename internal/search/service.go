package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCase indexes a case (fire-and-forget to Meilisearch).
func (s *Service) IndexCase(c CaseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(c); err != nil {
			s.log.Warn().Err(err).Str("case_id", c.ID).Msg("index case")
		}
	}()
}

// IndexTemplate indexes a template (fire-and-forget to Meilisearch).
func (s *Service) IndexTemplate(t TemplateRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTemplate(t); err != nil {
			s.log.Warn().Err(err).Str("template_id", t.ID).Msg("index template")
		}
	}()
}

// IndexDraft indexes a draft version (fire-and-forget to Meilisearch).
func (s *Service) IndexDraft(d DraftRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDraft(d); err != nil {
			s.log.Warn().Err(err).Str("draft_id", d.ID).Msg("index draft")
		}
	}()
}

// DeleteCase removes a case from the search index (fire-and-forget).
func (s *Service) DeleteCase(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCase(id); err != nil {
			s.log.Warn().Err(err).Str("case_id", id).Msg("delete case from index")
		}
	}()
}

// DeleteTemplate removes a template from the search index (fire-and-forget).
func (s *Service) DeleteTemplate(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTemplate(id); err != nil {
			s.log.Warn().Err(err).Str("template_id", id).Msg("delete template from index")
		}
	}()
}

// DeleteDraft removes a draft from the search index (fire-and-forget).
func (s *Service) DeleteDraft(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDraft(id); err != nil {
			s.log.Warn().Err(err).Str("draft_id", id).Msg("delete draft from index")
		}
	}()
}

// DeleteDraftsByCase removes a deleted case's draft documents from the
// search index (fire-and-forget).
func (s *Service) DeleteDraftsByCase(caseID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDraftsByCase(caseID); err != nil {
			s.log.Warn().Err(err).Str("case_id", caseID).Msg("delete case drafts from index")
		}
	}()
}

// ReindexAll pushes preloaded records to Meilisearch.
func (s *Service) ReindexAll(cases []CaseRecord, templates []TemplateRecord, drafts []DraftRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(cases) > 0 {
		if err := s.meili.IndexCases(cases); err != nil {
			s.log.Warn().Err(err).Msg("reindex cases")
		}
	}
	if len(templates) > 0 {
		if err := s.meili.IndexTemplates(templates); err != nil {
			s.log.Warn().Err(err).Msg("reindex templates")
		}
	}
	if len(drafts) > 0 {
		if err := s.meili.IndexDrafts(drafts); err != nil {
			s.log.Warn().Err(err).Msg("reindex drafts")
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	cases, templates, drafts, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	s.ReindexAll(cases, templates, drafts)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
