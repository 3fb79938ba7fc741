package model

import (
	"errors"
	"fmt"
)

// Opcion is one answer option as it was shown to the student.
type Opcion struct {
	Letra Letter `json:"letra" validate:"required,oneof=a b c d"`
	Texto string `json:"texto"`
}

// IntentoPregunta is the graded record of one question in a finalized attempt.
// The *Snap fields and Opciones are snapshots taken at grading time; the bank
// may have been edited since, and review must show what the student saw.
type IntentoPregunta struct {
	Orden                 int      `json:"orden" validate:"min=1"`
	ReactivoID            ID       `json:"reactivoId,omitempty"`
	Respondida            bool     `json:"respondida"`
	Correcta              bool     `json:"correcta"`
	RespuestaSeleccionada *Letter  `json:"respuestaSeleccionada,omitempty"`
	RespuestaCorrecta     Letter   `json:"respuestaCorrecta" validate:"required,oneof=a b c d"`
	EnunciadoSnap         string   `json:"enunciadoSnap"`
	ExplicacionSnap       string   `json:"explicacionSnap"`
	Opciones              []Opcion `json:"opciones" validate:"dive"`
	TiempoSeg             int      `json:"tiempoSeg" validate:"min=0"`
}

// Check enforces the cross-field rules struct tags cannot express.
func (p IntentoPregunta) Check() error {
	if p.Respondida {
		if p.RespuestaSeleccionada == nil {
			return fmt.Errorf("orden %d: answered without respuestaSeleccionada", p.Orden)
		}
		if !p.RespuestaSeleccionada.Valid() {
			return fmt.Errorf("orden %d: %w", p.Orden, ErrInvalidLetter)
		}
	} else if p.RespuestaSeleccionada != nil && *p.RespuestaSeleccionada != "" {
		return fmt.Errorf("orden %d: blank question carries respuestaSeleccionada", p.Orden)
	}
	return nil
}

// IsCorrect reports a correct answer; correcta only counts when respondida is set.
func (p IntentoPregunta) IsCorrect() bool { return p.Respondida && p.Correcta }

// IsIncorrect reports an answered, wrong question.
func (p IntentoPregunta) IsIncorrect() bool { return p.Respondida && !p.Correcta }

// IsBlank reports a question left unanswered at finalization.
func (p IntentoPregunta) IsBlank() bool { return !p.Respondida }

// ResultsSummary is derived from the graded list and never persisted.
type ResultsSummary struct {
	Correctas   int `json:"correctas"`
	Incorrectas int `json:"incorrectas"`
	EnBlanco    int `json:"enBlanco"`
	TiempoTotal int `json:"tiempoTotal"`
}

// ErrSummaryMismatch signals a graded list whose size disagrees with the blueprint.
var ErrSummaryMismatch = errors.New("graded question count does not match the blueprint")

// Total is correctas + incorrectas + enBlanco.
func (s ResultsSummary) Total() int { return s.Correctas + s.Incorrectas + s.EnBlanco }

// CheckItems verifies the sum law against the blueprint length.
func (s ResultsSummary) CheckItems(items int) error {
	if s.Total() != items {
		return fmt.Errorf("%w: summary covers %d, blueprint has %d", ErrSummaryMismatch, s.Total(), items)
	}
	return nil
}

// AttemptResults is what the results view renders. Loading is true while the
// exam service has not produced any graded record yet; Summary is nil then.
type AttemptResults struct {
	AttemptID ID                `json:"attempt_id"`
	Loading   bool              `json:"loading"`
	Questions []IntentoPregunta `json:"questions"`
	Summary   *ResultsSummary   `json:"summary,omitempty"`
}
