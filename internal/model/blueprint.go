package model

// GenerateRequest is the body of POST /examenes/generar.
type GenerateRequest struct {
	SpecialtyIDs      []ID `json:"specialtyIds" validate:"required,min=1,dive,required"`
	ItemCount         int  `json:"itemCount" validate:"min=1"`
	CaseCount         int  `json:"caseCount" validate:"min=0"`
	TimeBudgetMinutes int  `json:"timeBudgetMinutes" validate:"min=1"`
	UserID            ID   `json:"userId" validate:"required"`
}

// AttemptBlueprint is the ordered question list issued by the generator.
// Items keep the server's presentation order and are never reordered locally.
type AttemptBlueprint struct {
	ExamID ID   `json:"examId" validate:"required"`
	Items  []ID `json:"items" validate:"required,min=1,dive,required"`
}

// StartResponse is the body returned by POST /examenes/{examId}/iniciar.
type StartResponse struct {
	AttemptID ID `json:"attemptId" validate:"required"`
}

// FinalizeResponse is the body returned by POST /examenes/intentos/{id}/finalizar.
type FinalizeResponse struct {
	AttemptID ID `json:"attemptId" validate:"required"`
}

// Ack confirms that the exam service stored one answer.
type Ack struct {
	QuestionID ID     `json:"reactivoId" validate:"required"`
	Option     Letter `json:"respuesta" validate:"required,oneof=a b c d"`
}

// GenerateExamRequest is the gateway payload for building a new exam.
// The user id is taken from the caller's session, never from the body.
type GenerateExamRequest struct {
	SpecialtyIDs      []string `json:"specialty_ids" binding:"required,min=1,dive,required"`
	ItemCount         int      `json:"item_count" binding:"required,min=1,max=500"`
	CaseCount         int      `json:"case_count" binding:"min=0,max=500"`
	TimeBudgetMinutes int      `json:"time_budget_minutes" binding:"required,min=1,max=600"`
}

// SelectOptionRequest is the payload for choosing an answer.
type SelectOptionRequest struct {
	Option string `json:"option" binding:"required,max=2"`
}

// RecordElapsedRequest reports time spent on the displayed question when no
// exam stream is open.
type RecordElapsedRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	Seconds    int    `json:"seconds" binding:"min=0,max=3600"`
}

// AbandonRequest must carry confirm=true; the warning dialog is a hard gate.
type AbandonRequest struct {
	Confirm bool `json:"confirm"`
}
