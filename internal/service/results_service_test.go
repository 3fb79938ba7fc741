package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/examapi"
	"github.com/stemsi/exam-gateway/internal/model"
)

func TestSummarize(t *testing.T) {
	a, b := model.LetterA, model.LetterB
	tests := []struct {
		name string
		list []model.IntentoPregunta
		want model.ResultsSummary
	}{
		{
			name: "Empty",
			want: model.ResultsSummary{},
		},
		{
			name: "Mixed",
			list: []model.IntentoPregunta{
				{Orden: 1, Respondida: true, Correcta: true, RespuestaSeleccionada: &a, TiempoSeg: 10},
				{Orden: 2, Respondida: true, Correcta: false, RespuestaSeleccionada: &b, TiempoSeg: 20},
				{Orden: 3, Respondida: false, TiempoSeg: 3},
			},
			want: model.ResultsSummary{Correctas: 1, Incorrectas: 1, EnBlanco: 1, TiempoTotal: 33},
		},
		{
			name: "CorrectFlagOnBlankIsIgnored",
			list: []model.IntentoPregunta{
				{Orden: 1, Respondida: false, Correcta: true},
			},
			want: model.ResultsSummary{EnBlanco: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.list)
			if got != tt.want {
				t.Fatalf("Summarize() = %+v, want %+v", got, tt.want)
			}
			if got.Total() != len(tt.list) {
				t.Fatalf("Total() = %d, want %d", got.Total(), len(tt.list))
			}
		})
	}
}

func TestResultsLoad(t *testing.T) {
	a := model.LetterA

	t.Run("EmptyListIsLoading", func(t *testing.T) {
		h := newHarness(t, config.SubmissionModeBatch, time.Second)
		res, err := h.results.Load(context.Background(), h.sc, "attempt-9")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !res.Loading || res.Summary != nil || len(res.Questions) != 0 {
			t.Fatalf("expected loading state, got %+v", res)
		}
	})

	t.Run("UnknownAttempt", func(t *testing.T) {
		h := newHarness(t, config.SubmissionModeBatch, time.Second)
		h.api.answersErr = &examapi.TransportError{Op: "answers", Err: examapi.ErrNotFound}
		if _, err := h.results.Load(context.Background(), h.sc, "missing"); !errors.Is(err, ErrResultsNotAvailable) {
			t.Fatalf("expected ErrResultsNotAvailable, got %v", err)
		}
	})

	t.Run("TransportFailurePassesThrough", func(t *testing.T) {
		h := newHarness(t, config.SubmissionModeBatch, time.Second)
		h.api.answersErr = &examapi.TransportError{Op: "answers", Err: errors.New("dial tcp: refused")}
		_, err := h.results.Load(context.Background(), h.sc, "attempt-1")
		var te *examapi.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransportError, got %v", err)
		}
	})

	t.Run("CountMismatchIsMalformed", func(t *testing.T) {
		h := newHarness(t, config.SubmissionModeBatch, time.Second)
		sess := h.startedSession(t)
		if _, err := h.finalization.Finalize(context.Background(), h.sc, sess, false); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		h.api.graded = []model.IntentoPregunta{
			{Orden: 1, Respondida: true, Correcta: true, RespuestaSeleccionada: &a, RespuestaCorrecta: a},
		}

		_, err := h.results.Load(context.Background(), h.sc, sess.FinalAttemptID())
		var me *examapi.MalformedResponseError
		if !errors.As(err, &me) || !errors.Is(err, model.ErrSummaryMismatch) {
			t.Fatalf("expected MalformedResponseError wrapping ErrSummaryMismatch, got %v", err)
		}
	})

	t.Run("AttemptFromEarlierProcessSkipsCountCheck", func(t *testing.T) {
		h := newHarness(t, config.SubmissionModeBatch, time.Second)
		h.api.graded = []model.IntentoPregunta{
			{Orden: 1, Respondida: true, Correcta: true, RespuestaSeleccionada: &a, RespuestaCorrecta: a, TiempoSeg: 12},
		}
		res, err := h.results.Load(context.Background(), h.sc, "old-attempt")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if res.Summary == nil || res.Summary.Correctas != 1 || res.Summary.TiempoTotal != 12 {
			t.Fatalf("summary = %+v", res.Summary)
		}
	})
}
