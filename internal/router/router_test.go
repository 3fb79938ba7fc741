package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/examapi"
	"github.com/stemsi/exam-gateway/internal/handler"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/service"
)

// examService is a scripted remote exam service. Option "a" is always correct.
type examService struct {
	mu        sync.Mutex
	answers   map[string]string
	finalized bool
	calls     []string
}

func (s *examService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /examenes/generar", func(w http.ResponseWriter, r *http.Request) {
		s.record("generate")
		_, _ = w.Write([]byte(`{"examId": "e1", "items": ["q1", "q2", "q3"]}`))
	})
	mux.HandleFunc("POST /examenes/e1/iniciar", func(w http.ResponseWriter, r *http.Request) {
		s.record("start")
		_, _ = w.Write([]byte(`{"attemptId": "a1"}`))
	})
	mux.HandleFunc("POST /examenes/intentos/a1/reactivo", func(w http.ResponseWriter, r *http.Request) {
		s.record("submit")
		s.mu.Lock()
		s.answers[r.URL.Query().Get("reactivoId")] = r.URL.Query().Get("respuesta")
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /examenes/intentos/a1/respuestas", func(w http.ResponseWriter, r *http.Request) {
		s.record("batch")
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		for q, l := range body {
			s.answers[q] = l
		}
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /examenes/intentos/a1/finalizar", func(w http.ResponseWriter, r *http.Request) {
		s.record("finalize")
		s.mu.Lock()
		s.finalized = true
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"attemptId": "a1"}`))
	})
	mux.HandleFunc("GET /examenes/intentos/a1/respuestas", func(w http.ResponseWriter, r *http.Request) {
		s.record("answers")
		_ = json.NewEncoder(w).Encode(s.graded())
	})
	return mux
}

func (s *examService) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *examService) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (s *examService) graded() []model.IntentoPregunta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.IntentoPregunta{}
	if !s.finalized {
		return out
	}
	for i, q := range []string{"q1", "q2", "q3"} {
		p := model.IntentoPregunta{Orden: i + 1, ReactivoID: model.ID(q), RespuestaCorrecta: model.LetterA, TiempoSeg: 10}
		if l, ok := s.answers[q]; ok {
			sel := model.Letter(l)
			p.Respondida = true
			p.RespuestaSeleccionada = &sel
			p.Correcta = sel == model.LetterA
		}
		out = append(out, p)
	}
	return out
}

const sessionSecret = "session-manager-secret"

type gateway struct {
	srv   *httptest.Server
	exam  *examService
	store credential.Store
	token string
}

// signToken issues a session token for subject signed with key.
func signToken(t *testing.T, subject string, expires time.Time, key string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	}).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	exam := &examService{answers: make(map[string]string)}
	examSrv := httptest.NewServer(exam.handler())
	t.Cleanup(examSrv.Close)

	log := zerolog.Nop()
	cfg := &config.Config{GinMode: "test", SubmissionMode: config.SubmissionModeBatch}

	api := examapi.NewClient(examSrv.URL, 2*time.Second, log)
	store := credential.NewMemoryStore()
	registry := service.NewAttemptRegistry(log)
	history := service.NewHistoryService(nil, nil, log)
	submissions := service.NewSubmissionService(api, time.Second, log)
	attempts := service.NewAttemptService(api, registry, submissions, cfg.SubmissionMode, log)
	finalization := service.NewFinalizationService(api, submissions, registry, history, 2*time.Second, log)
	results := service.NewResultsService(api, registry, nil, time.Minute, log)

	handlers := &Handlers{
		Attempt: handler.NewAttemptHandler(service.NewBlueprintService(api, log), attempts, finalization, results, history, log),
		WS:      handler.NewWSHandler(attempts, finalization, log, nil),
	}
	verifier, err := credential.NewVerifier(sessionSecret, nil)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	srv := httptest.NewServer(SetupRouter(verifier, store, handlers, cfg, log))
	t.Cleanup(srv.Close)

	token := signToken(t, "student-1", time.Now().Add(time.Hour), sessionSecret)
	return &gateway{srv: srv, exam: exam, store: store, token: token}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *gateway) call(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, g.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return res.StatusCode, env
}

type snapshotBody struct {
	Handle    string `json:"handle"`
	Status    string `json:"status"`
	AttemptID string `json:"attempt_id"`
	Questions []struct {
		ID             string `json:"id"`
		SelectedOption string `json:"selected_option"`
	} `json:"questions"`
}

func (g *gateway) newAttempt(t *testing.T) snapshotBody {
	t.Helper()
	status, env := g.call(t, http.MethodPost, "/api/v1/exams/generate", map[string]any{
		"specialty_ids":       []string{"4"},
		"item_count":          3,
		"time_budget_minutes": 10,
	})
	if status != http.StatusCreated {
		t.Fatalf("generate: status %d, error %+v", status, env.Error)
	}
	var snap snapshotBody
	_ = json.Unmarshal(env.Data, &snap)
	if snap.Status != "NOT_STARTED" || len(snap.Questions) != 3 {
		t.Fatalf("generate: snapshot %+v", snap)
	}
	return snap
}

func TestAttemptFlow(t *testing.T) {
	g := newGateway(t)
	snap := g.newAttempt(t)
	base := "/api/v1/attempts/" + snap.Handle

	t.Run("Start", func(t *testing.T) {
		status, env := g.call(t, http.MethodPost, base+"/start", nil)
		if status != http.StatusOK {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
		var s snapshotBody
		_ = json.Unmarshal(env.Data, &s)
		if s.Status != "IN_PROGRESS" || s.AttemptID != "a1" {
			t.Fatalf("snapshot %+v", s)
		}
	})

	t.Run("StartAgain", func(t *testing.T) {
		status, env := g.call(t, http.MethodPost, base+"/start", nil)
		if status != http.StatusConflict || env.Error.Code != "ALREADY_STARTED" {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
	})

	t.Run("SelectOptions", func(t *testing.T) {
		for q, opt := range map[string]string{"q1": "A", "q2": "c"} {
			status, env := g.call(t, http.MethodPut, base+"/answers/"+q, map[string]string{"option": opt})
			if status != http.StatusOK {
				t.Fatalf("select %s: status %d, error %+v", q, status, env.Error)
			}
		}
		status, env := g.call(t, http.MethodPut, base+"/answers/q1", map[string]string{"option": "z"})
		if status != http.StatusBadRequest || env.Error.Code != "INVALID_OPTION" {
			t.Fatalf("bad option: status %d, error %+v", status, env.Error)
		}
		if g.exam.count("submit") != 0 {
			t.Fatal("batch mode must not send answers before finalize")
		}
	})

	t.Run("ResultsBeforeFinalizeAreLoading", func(t *testing.T) {
		status, env := g.call(t, http.MethodGet, "/api/v1/results/a1", nil)
		if status != http.StatusOK {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
		var res model.AttemptResults
		_ = json.Unmarshal(env.Data, &res)
		if !res.Loading {
			t.Fatalf("expected loading, got %+v", res)
		}
	})

	t.Run("Finalize", func(t *testing.T) {
		status, env := g.call(t, http.MethodPost, base+"/finalize", nil)
		if status != http.StatusOK {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
		var out struct {
			AttemptID string `json:"attempt_id"`
			Status    string `json:"status"`
		}
		_ = json.Unmarshal(env.Data, &out)
		if out.AttemptID != "a1" || out.Status != "FINALIZED" {
			t.Fatalf("finalize body %+v", out)
		}
		if g.exam.count("batch") != 1 || g.exam.count("finalize") != 1 {
			t.Fatalf("remote calls = %v", g.exam.calls)
		}
	})

	t.Run("FinalizeAgain", func(t *testing.T) {
		status, env := g.call(t, http.MethodPost, base+"/finalize", nil)
		if status != http.StatusConflict || env.Error.Code != "ALREADY_FINALIZED" {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
		if g.exam.count("finalize") != 1 {
			t.Fatal("second finalize reached the exam service")
		}
	})

	t.Run("Results", func(t *testing.T) {
		status, env := g.call(t, http.MethodGet, "/api/v1/results/a1", nil)
		if status != http.StatusOK {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
		var res model.AttemptResults
		_ = json.Unmarshal(env.Data, &res)
		want := model.ResultsSummary{Correctas: 1, Incorrectas: 1, EnBlanco: 1, TiempoTotal: 30}
		if res.Loading || res.Summary == nil || *res.Summary != want {
			t.Fatalf("results %+v", res)
		}
		if len(res.Questions) != 3 || res.Questions[0].Orden != 1 {
			t.Fatalf("questions %+v", res.Questions)
		}
	})

	t.Run("HistoryDisabled", func(t *testing.T) {
		status, env := g.call(t, http.MethodGet, "/api/v1/attempts/history", nil)
		if status != http.StatusOK {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
		var out struct {
			Attempts []model.AttemptHistory `json:"attempts"`
		}
		_ = json.Unmarshal(env.Data, &out)
		if out.Attempts == nil || len(out.Attempts) != 0 {
			t.Fatalf("history %+v", out)
		}
	})
}

func TestAbandon(t *testing.T) {
	g := newGateway(t)
	snap := g.newAttempt(t)
	base := "/api/v1/attempts/" + snap.Handle
	if status, env := g.call(t, http.MethodPost, base+"/start", nil); status != http.StatusOK {
		t.Fatalf("start: status %d, error %+v", status, env.Error)
	}

	status, env := g.call(t, http.MethodPost, base+"/abandon", map[string]bool{"confirm": false})
	if status != http.StatusConflict || env.Error.Code != "ABANDON_CONFIRMATION_REQUIRED" {
		t.Fatalf("unconfirmed: status %d, error %+v", status, env.Error)
	}

	status, env = g.call(t, http.MethodPost, base+"/abandon", map[string]bool{"confirm": true})
	if status != http.StatusOK {
		t.Fatalf("confirmed: status %d, error %+v", status, env.Error)
	}

	status, env = g.call(t, http.MethodGet, base, nil)
	if status != http.StatusNotFound || env.Error.Code != "ATTEMPT_NOT_FOUND" {
		t.Fatalf("after abandon: status %d, error %+v", status, env.Error)
	}
	if g.exam.count("finalize") != 0 || g.exam.count("batch") != 0 {
		t.Fatal("abandon must not deliver answers")
	}
}

func TestAuthentication(t *testing.T) {
	g := newGateway(t)

	t.Run("MissingToken", func(t *testing.T) {
		anon := &gateway{srv: g.srv}
		status, env := anon.call(t, http.MethodPost, "/api/v1/exams/generate", map[string]any{})
		if status != http.StatusUnauthorized || env.Error.Code != "TOKEN_REQUIRED" {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		raw := signToken(t, "student-1", time.Now().Add(-time.Minute), sessionSecret)
		expired := &gateway{srv: g.srv, token: raw}
		status, env := expired.call(t, http.MethodGet, "/api/v1/attempts/history", nil)
		if status != http.StatusUnauthorized || env.Error.Code != "TOKEN_EXPIRED" {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
	})

	t.Run("OtherUsersAttempt", func(t *testing.T) {
		snap := g.newAttempt(t)
		raw := signToken(t, "student-2", time.Now().Add(time.Hour), sessionSecret)
		other := &gateway{srv: g.srv, token: raw}
		status, env := other.call(t, http.MethodGet, "/api/v1/attempts/"+snap.Handle, nil)
		if status != http.StatusNotFound || env.Error.Code != "ATTEMPT_NOT_FOUND" {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
	})

	t.Run("ForgedTokenForAnotherUser", func(t *testing.T) {
		snap := g.newAttempt(t)
		base := "/api/v1/attempts/" + snap.Handle
		forged := &gateway{srv: g.srv, token: signToken(t, "student-1", time.Now().Add(time.Hour), "attacker-chosen-key")}

		status, env := forged.call(t, http.MethodPost, base+"/abandon", map[string]bool{"confirm": true})
		if status != http.StatusUnauthorized || env.Error.Code != "TOKEN_INVALID" {
			t.Fatalf("abandon: status %d, error %+v", status, env.Error)
		}
		status, env = forged.call(t, http.MethodGet, "/api/v1/attempts/history", nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("history: status %d, error %+v", status, env.Error)
		}

		// The victim's attempt and stored credential are untouched.
		status, env = g.call(t, http.MethodGet, base, nil)
		if status != http.StatusOK {
			t.Fatalf("get: status %d, error %+v", status, env.Error)
		}
		var s snapshotBody
		_ = json.Unmarshal(env.Data, &s)
		if s.Status != "NOT_STARTED" {
			t.Fatalf("status = %s", s.Status)
		}
		if tok, err := g.store.Get(context.Background(), "student-1"); err != nil || tok != g.token {
			t.Fatalf("stored credential = %q, %v", tok, err)
		}
	})

	t.Run("BadHandle", func(t *testing.T) {
		status, env := g.call(t, http.MethodGet, "/api/v1/attempts/not-a-handle", nil)
		if status != http.StatusBadRequest || env.Error.Code != "INVALID_ID" {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
	})
}

func TestAttemptStream(t *testing.T) {
	g := newGateway(t)
	snap := g.newAttempt(t)
	if status, env := g.call(t, http.MethodPost, "/api/v1/attempts/"+snap.Handle+"/start", nil); status != http.StatusOK {
		t.Fatalf("start: status %d, error %+v", status, env.Error)
	}

	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/v1/attempts/" + snap.Handle + "/stream?token=" + g.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// readEvent skips timer ticks.
	readEvent := func() map[string]any {
		t.Helper()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read: %v", err)
			}
			if msg["event"] != "tick" {
				return msg
			}
		}
	}

	if ev := readEvent(); ev["event"] != "state" {
		t.Fatalf("first event = %v", ev)
	}

	t.Run("SecondViewerRefused", func(t *testing.T) {
		_, res, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatal("second stream should be refused")
		}
		if res == nil || res.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409, got %v", res)
		}
	})

	t.Run("HTTPElapsedRefusedWhileStreaming", func(t *testing.T) {
		status, env := g.call(t, http.MethodPost, "/api/v1/attempts/"+snap.Handle+"/elapsed", map[string]any{"question_id": "q1", "seconds": 5})
		if status != http.StatusConflict || env.Error.Code != "ATTEMPT_OPEN_ELSEWHERE" {
			t.Fatalf("status %d, error %+v", status, env.Error)
		}
	})

	_ = conn.WriteJSON(map[string]string{"action": "select", "q_id": "q3", "option": "a"})
	if ev := readEvent(); ev["event"] != "state" {
		t.Fatalf("after select = %v", ev)
	}

	_ = conn.WriteJSON(map[string]string{"action": "select", "q_id": "q9", "option": "a"})
	if ev := readEvent(); ev["event"] != "error" || ev["code"] != "UNKNOWN_QUESTION" {
		t.Fatalf("unknown question = %v", ev)
	}

	_ = conn.WriteJSON(map[string]string{"action": "finalize"})
	ev := readEvent()
	if ev["event"] != "finalized" || ev["attempt_id"] != "a1" || ev["auto"] != false {
		t.Fatalf("finalize = %v", ev)
	}
	if g.exam.count("finalize") != 1 {
		t.Fatalf("finalize calls = %d", g.exam.count("finalize"))
	}
}
