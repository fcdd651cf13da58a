package search

import (
	"context"

	"go.uber.org/zap"
)

type indexSearcher interface {
	Searcher
	Indexer
}

type recordLoader interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]SheetRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili    indexSearcher
	fallback recordLoader
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *PgSearch, logger *zap.Logger) *Service {
	s := &Service{fallback: fallback, logger: logger.Named("search")}
	if meili != nil {
		s.meili = meili
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: SourcePostgres}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourcePostgres}
}

// IndexSheet indexes a sheet (fire-and-forget to Meilisearch).
func (s *Service) IndexSheet(record SheetRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSheets([]SheetRecord{record}); err != nil {
			s.logger.Warn("index sheet", zap.String("id", record.ID), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every stored sheet into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexSheets(records); err != nil {
		s.logger.Warn("reindex sheets", zap.Int("count", len(records)), zap.Error(err))
		return
	}
	s.logger.Info("reindexed sheets", zap.Int("count", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
