package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidOption  ErrCode = "INVALID_OPTION"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrAttemptNotFound        ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAlreadyStarted         ErrCode = "ALREADY_STARTED"
	ErrAlreadyFinalized       ErrCode = "ALREADY_FINALIZED"
	ErrNotInProgress          ErrCode = "NOT_IN_PROGRESS"
	ErrFinalizationPending    ErrCode = "FINALIZATION_PENDING"
	ErrAttemptAbandoned       ErrCode = "ATTEMPT_ABANDONED"
	ErrUnknownQuestion        ErrCode = "UNKNOWN_QUESTION"
	ErrAbandonConfirmRequired ErrCode = "ABANDON_CONFIRMATION_REQUIRED"
	ErrActiveAttemptExists    ErrCode = "ACTIVE_ATTEMPT_EXISTS"
	ErrAttemptOpenElsewhere   ErrCode = "ATTEMPT_OPEN_ELSEWHERE"

	// ─── Exam service ──────────────────────────────────────────────────
	ErrGenerationFailed    ErrCode = "GENERATION_FAILED"
	ErrSubmissionFailed    ErrCode = "SUBMISSION_FAILED"
	ErrFinalizationFailed  ErrCode = "FINALIZATION_FAILED"
	ErrResultsNotAvailable ErrCode = "RESULTS_NOT_AVAILABLE"
	ErrMalformedResponse   ErrCode = "MALFORMED_RESPONSE"
	ErrUpstreamUnavailable ErrCode = "UPSTREAM_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Se requiere un token de acceso."
	case ErrTokenInvalid:
		return "El token de acceso no es válido."
	case ErrTokenExpired:
		return "Tu sesión expiró. Inicia sesión de nuevo."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "La validación falló. Revisa los datos enviados."
	case ErrInvalidID:
		return "El formato del identificador no es válido."
	case ErrInvalidPayload:
		return "El cuerpo de la solicitud no es válido."
	case ErrInvalidOption:
		return "La opción debe ser a, b, c o d."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrAttemptNotFound:
		return "No se encontró el intento."
	case ErrAlreadyStarted:
		return "El intento ya fue iniciado."
	case ErrAlreadyFinalized:
		return "El examen ya fue finalizado."
	case ErrNotInProgress:
		return "El intento no está en curso."
	case ErrFinalizationPending:
		return "El examen se está finalizando."
	case ErrAttemptAbandoned:
		return "El intento fue abandonado."
	case ErrUnknownQuestion:
		return "La pregunta no pertenece a este examen."
	case ErrAbandonConfirmRequired:
		return "Si sales del examen perderás tu progreso. Confirma para continuar."
	case ErrActiveAttemptExists:
		return "Ya tienes un examen en curso."
	case ErrAttemptOpenElsewhere:
		return "Este examen ya está abierto en otra ventana."

	// ─── Exam service ──────────────────────────────────────────────────
	case ErrGenerationFailed:
		return "No se pudo generar el examen. Intenta de nuevo."
	case ErrSubmissionFailed:
		return "No se pudieron enviar tus respuestas. Se conservan y se reintentarán."
	case ErrFinalizationFailed:
		return "No se pudo finalizar el examen. Intenta de nuevo."
	case ErrResultsNotAvailable:
		return "Los resultados de este intento no están disponibles."
	case ErrMalformedResponse:
		return "El servicio de exámenes devolvió una respuesta inválida."
	case ErrUpstreamUnavailable:
		return "El servicio de exámenes no está disponible."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Demasiadas solicitudes. Intenta más tarde."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Ocurrió un error interno del servidor."
	default:
		return "Ocurrió un error inesperado."
	}
}

// Retryable reports whether the UI should offer a retry for code. The attempt
// is left IN_PROGRESS after these failures, so retrying is safe.
func Retryable(code ErrCode) bool {
	switch code {
	case ErrSubmissionFailed, ErrFinalizationFailed, ErrUpstreamUnavailable, ErrRateLimitExceeded:
		return true
	}
	return false
}
