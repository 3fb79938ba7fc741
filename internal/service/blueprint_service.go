package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/metrics"
	"github.com/stemsi/exam-gateway/internal/model"
)

// BlueprintService turns a generation request into an AttemptBlueprint.
// Question selection belongs to the exam service; nothing is filtered or
// reordered here.
type BlueprintService struct {
	api ExamAPI
	log zerolog.Logger
}

// NewBlueprintService creates a new BlueprintService.
func NewBlueprintService(api ExamAPI, log zerolog.Logger) *BlueprintService {
	return &BlueprintService{
		api: api,
		log: log.With().Str("component", "blueprint_service").Logger(),
	}
}

// Resolve asks the exam service for a blueprint on behalf of the session's user.
// Failures are *examapi.GenerationError.
func (s *BlueprintService) Resolve(ctx context.Context, sc *credential.SessionContext, req model.GenerateExamRequest) (*model.AttemptBlueprint, error) {
	specialties := make([]model.ID, 0, len(req.SpecialtyIDs))
	for _, id := range req.SpecialtyIDs {
		specialties = append(specialties, model.ID(id))
	}

	bp, err := s.api.Generate(ctx, sc, model.GenerateRequest{
		SpecialtyIDs:      specialties,
		ItemCount:         req.ItemCount,
		CaseCount:         req.CaseCount,
		TimeBudgetMinutes: req.TimeBudgetMinutes,
		UserID:            model.ID(sc.UserID),
	})
	if err != nil {
		metrics.AttemptsGenerated.WithLabelValues(metrics.ResultError).Inc()
		s.log.Warn().Err(err).
			Str("user_id", sc.UserID).
			Int("item_count", req.ItemCount).
			Msg("Exam generation failed")
		return nil, err
	}

	metrics.AttemptsGenerated.WithLabelValues(metrics.ResultOK).Inc()
	s.log.Info().
		Str("user_id", sc.UserID).
		Str("exam_id", bp.ExamID.String()).
		Int("items", len(bp.Items)).
		Msg("Blueprint issued")
	return bp, nil
}
