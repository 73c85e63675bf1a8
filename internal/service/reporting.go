package service

import (
	"context"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/storage"
)

// ReportingService generates incident reports from the episode journal.
type ReportingService struct {
	repo storage.Repository
}

// NewReportingService creates a new ReportingService. repo may be nil when
// no journal database is configured.
func NewReportingService(repo storage.Repository) *ReportingService {
	return &ReportingService{repo: repo}
}

// GetIncidentReport returns the resolution counts, theft rate, cause
// breakdown and confirmed thefts for a circuit.
func (s *ReportingService) GetIncidentReport(ctx context.Context, circuitID string, from, to time.Time) (*domain.IncidentReport, error) {
	if s.repo == nil {
		return nil, domain.ErrJournalDisabled
	}

	stats, err := s.repo.GetCircuitStats(ctx, circuitID, from, to)
	if err != nil {
		return nil, err
	}

	causes, err := s.repo.GetCauseBreakdown(ctx, circuitID, from, to)
	if err != nil {
		return nil, err
	}

	thefts, err := s.repo.GetThefts(ctx, circuitID, from, to)
	if err != nil {
		return nil, err
	}
	if thefts == nil {
		thefts = []domain.Episode{}
	}

	var theftRate float64
	if stats.Total > 0 {
		theftRate = float64(stats.TheftConfirmed) / float64(stats.Total) * 100
	}

	return &domain.IncidentReport{
		CircuitID:      circuitID,
		TotalEpisodes:  stats.Total,
		Adapted:        stats.Adapted,
		TheftConfirmed: stats.TheftConfirmed,
		Pending:        stats.Pending,
		TheftRate:      theftRate,
		CauseBreakdown: causes,
		Thefts:         thefts,
		TimeRange:      domain.TimeRange{From: from, To: to},
	}, nil
}
