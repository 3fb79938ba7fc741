package examapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/validator"
	"golang.org/x/oauth2"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 8 << 20

// Client talks to the remote exam generation/scoring service.
type Client struct {
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
	log       zerolog.Logger
}

// NewClient creates a Client rooted at baseURL (without trailing slash).
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		timeout:   timeout,
		transport: http.DefaultTransport,
		log:       log.With().Str("component", "examapi").Logger(),
	}
}

// WithTransport replaces the underlying round tripper (tests, custom TLS).
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.transport = rt
	return c
}

// Generate asks the service for a new blueprint. Every failure, transport
// included, is reported as a *GenerationError.
func (c *Client) Generate(ctx context.Context, sc *credential.SessionContext, req model.GenerateRequest) (*model.AttemptBlueprint, error) {
	const op = "generate"

	if err := validator.Struct(req); err != nil {
		return nil, &GenerationError{Reason: "invalid request", Err: err}
	}

	var bp model.AttemptBlueprint
	if err := c.do(ctx, sc, op, http.MethodPost, "/examenes/generar", nil, req, &bp); err != nil {
		var te *TransportError
		var me *MalformedResponseError
		if errors.As(err, &me) {
			return nil, &GenerationError{Reason: "invalid blueprint", Err: err}
		}
		if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 && !errors.Is(err, ErrUnauthorized) {
			return nil, &GenerationError{Reason: "rejected by exam service", Err: err}
		}
		return nil, &GenerationError{Reason: "request failed", Err: err}
	}

	if len(bp.Items) == 0 {
		return nil, &GenerationError{Reason: "no questions", Err: ErrEmptyBlueprint}
	}
	if err := validator.Struct(bp); err != nil {
		return nil, &GenerationError{Reason: "invalid blueprint", Err: &MalformedResponseError{Op: op, Err: err}}
	}
	return &bp, nil
}

// Start opens an attempt for a blueprint and returns its attempt id.
func (c *Client) Start(ctx context.Context, sc *credential.SessionContext, examID, userID model.ID) (model.ID, error) {
	const op = "start"

	body := map[string]model.ID{"userId": userID}
	var out model.StartResponse
	path := "/examenes/" + url.PathEscape(examID.String()) + "/iniciar"
	if err := c.do(ctx, sc, op, http.MethodPost, path, nil, body, &out); err != nil {
		return "", err
	}
	if err := validator.Struct(out); err != nil {
		return "", &MalformedResponseError{Op: op, Err: err}
	}
	return out.AttemptID, nil
}

// SubmitAnswer delivers one answer. An empty 2xx body counts as an Ack for
// exactly what was sent.
func (c *Client) SubmitAnswer(ctx context.Context, sc *credential.SessionContext, attemptID, questionID model.ID, option model.Letter) (model.Ack, error) {
	const op = "submit_answer"

	q := url.Values{}
	q.Set("reactivoId", questionID.String())
	q.Set("respuesta", string(option))

	var raw json.RawMessage
	path := "/examenes/intentos/" + url.PathEscape(attemptID.String()) + "/reactivo"
	if err := c.do(ctx, sc, op, http.MethodPost, path, q, nil, &raw); err != nil {
		return model.Ack{}, err
	}

	ack := model.Ack{QuestionID: questionID, Option: option}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ack); err != nil {
			return model.Ack{}, &MalformedResponseError{Op: op, Err: err}
		}
		if err := validator.Struct(ack); err != nil {
			return model.Ack{}, &MalformedResponseError{Op: op, Err: err}
		}
		if ack.QuestionID != questionID || ack.Option != option {
			return model.Ack{}, &MalformedResponseError{Op: op, Err: fmt.Errorf("ack %s=%s, sent %s=%s", ack.QuestionID, ack.Option, questionID, option)}
		}
	}
	return ack, nil
}

// SubmitBatch delivers several answers in one call.
func (c *Client) SubmitBatch(ctx context.Context, sc *credential.SessionContext, attemptID model.ID, answers map[model.ID]model.Letter) ([]model.Ack, error) {
	const op = "submit_batch"

	var raw json.RawMessage
	path := "/examenes/intentos/" + url.PathEscape(attemptID.String()) + "/respuestas"
	if err := c.do(ctx, sc, op, http.MethodPost, path, nil, answers, &raw); err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		acks := make([]model.Ack, 0, len(answers))
		for q, l := range answers {
			acks = append(acks, model.Ack{QuestionID: q, Option: l})
		}
		sort.Slice(acks, func(i, j int) bool { return acks[i].QuestionID < acks[j].QuestionID })
		return acks, nil
	}

	var acks []model.Ack
	if err := json.Unmarshal(raw, &acks); err != nil {
		return nil, &MalformedResponseError{Op: op, Err: err}
	}
	for i := range acks {
		if err := validator.Struct(acks[i]); err != nil {
			return nil, &MalformedResponseError{Op: op, Err: fmt.Errorf("ack %d: %w", i, err)}
		}
	}
	return acks, nil
}

// Finalize closes the attempt for grading.
func (c *Client) Finalize(ctx context.Context, sc *credential.SessionContext, attemptID model.ID) (model.ID, error) {
	const op = "finalize"

	var out model.FinalizeResponse
	path := "/examenes/intentos/" + url.PathEscape(attemptID.String()) + "/finalizar"
	if err := c.do(ctx, sc, op, http.MethodPost, path, nil, nil, &out); err != nil {
		return "", err
	}
	if err := validator.Struct(out); err != nil {
		return "", &MalformedResponseError{Op: op, Err: err}
	}
	return out.AttemptID, nil
}

// Answers fetches the graded, snapshot-annotated answers of a finalized attempt,
// ordered by Orden.
func (c *Client) Answers(ctx context.Context, sc *credential.SessionContext, attemptID model.ID) ([]model.IntentoPregunta, error) {
	const op = "answers"

	var out []model.IntentoPregunta
	path := "/examenes/intentos/" + url.PathEscape(attemptID.String()) + "/respuestas"
	if err := c.do(ctx, sc, op, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(out))
	for i := range out {
		if err := validator.Struct(out[i]); err != nil {
			return nil, &MalformedResponseError{Op: op, Err: fmt.Errorf("item %d: %w", i, err)}
		}
		if err := out[i].Check(); err != nil {
			return nil, &MalformedResponseError{Op: op, Err: err}
		}
		if seen[out[i].Orden] {
			return nil, &MalformedResponseError{Op: op, Err: fmt.Errorf("duplicate orden %d", out[i].Orden)}
		}
		seen[out[i].Orden] = true
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Orden < out[j].Orden })
	if out == nil {
		out = []model.IntentoPregunta{}
	}
	return out, nil
}

// do performs one JSON round trip. body and out may be nil; when out is a
// *json.RawMessage the raw body is handed back untouched (possibly empty).
func (c *Client) do(ctx context.Context, sc *credential.SessionContext, op, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("examapi %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("examapi %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := response.RequestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	hc := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: sc.TokenSource(ctx),
			Base:   c.transport,
		},
	}

	start := time.Now()
	res, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredential) {
			return &TransportError{Op: op, Err: ErrUnauthorized}
		}
		c.log.Warn().Err(err).Str("op", op).Dur("took", time.Since(start)).Msg("Exam service unreachable")
		return &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: op, StatusCode: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log.Debug().
		Str("op", op).
		Int("status", res.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Exam service call")

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return &TransportError{Op: op, StatusCode: res.StatusCode, Err: ErrUnauthorized}
	case res.StatusCode == http.StatusNotFound:
		return &TransportError{Op: op, StatusCode: res.StatusCode, Err: ErrNotFound}
	case res.StatusCode/100 != 2:
		return &TransportError{Op: op, StatusCode: res.StatusCode, Err: errors.New(remoteMessage(raw, res.Status))}
	}

	if out == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if rm, ok := out.(*json.RawMessage); ok {
		*rm = append((*rm)[:0], trimmed...)
		return nil
	}
	if len(trimmed) == 0 {
		return &MalformedResponseError{Op: op, Err: errors.New("empty body")}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &MalformedResponseError{Op: op, Err: err}
	}
	return nil
}

// remoteMessage pulls a human readable message out of an error body.
func remoteMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fallback
}
