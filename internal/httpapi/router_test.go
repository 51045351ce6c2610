package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/analysis"
	"github.com/gamereview/api/internal/game"
	"github.com/gamereview/api/internal/review"
	"github.com/gamereview/api/internal/store"
)

// stubAnalyzer returns a canned analysis, emitting one progress event
// per ply first.
type stubAnalyzer struct {
	result *analysis.GameAnalysis
	err    error
}

func (s *stubAnalyzer) Analyze(_ context.Context, g *game.Game, progress analysis.ProgressFunc, _ ...analysis.Option) (*analysis.GameAnalysis, error) {
	if s.err != nil {
		return s.result, s.err
	}
	if progress != nil {
		progress(analysis.ProgressEvent{State: analysis.StateReceived, Total: len(g.Plies)})
		for i := range g.Plies {
			progress(analysis.ProgressEvent{
				State: analysis.StateEvaluating,
				Done:  i + 1,
				Total: len(g.Positions),
			})
		}
		for i := range g.Plies {
			ply := s.result.Moves[i]
			progress(analysis.ProgressEvent{
				State: analysis.StateClassifying,
				Done:  i + 1,
				Total: len(g.Plies),
				Ply:   &ply,
			})
		}
	}
	return s.result, nil
}

type stubReviewer struct {
	rev        *review.Review
	err        error
	configured bool
	lastReq    review.Request
}

func (s *stubReviewer) Generate(_ context.Context, req review.Request) (*review.Review, error) {
	s.lastReq = req
	return s.rev, s.err
}

func (s *stubReviewer) Configured() bool { return s.configured }

func cannedAnalysis() *analysis.GameAnalysis {
	return &analysis.GameAnalysis{
		ID:    uuid.New(),
		State: analysis.StateComplete,
		White: "Unknown",
		Black: "Unknown",
		Moves: []analysis.PlyAnalysis{
			{Ply: 0, SAN: "e4", Quality: analysis.Best},
			{Ply: 1, SAN: "e5", Quality: analysis.Best},
		},
	}
}

func newTestRouter(t *testing.T, a Analyzer, rev Reviewer) (http.Handler, *store.MemoryAnalysisStore) {
	t.Helper()
	st := store.NewMemoryAnalysisStore(100)
	return NewRouter(RouterConfig{
		Logger:   zerolog.Nop(),
		Analyzer: a,
		Store:    st,
		Reviewer: rev,
		Stats: func() map[string]any {
			return map[string]any{"evaluated": 42}
		},
	}), st
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAnalyzeEndpoint(t *testing.T) {
	canned := cannedAnalysis()
	h, st := newTestRouter(t, &stubAnalyzer{result: canned}, nil)

	w := postJSON(t, h, "/v1/analyze", map[string]string{"pgn": "1. e4 e5"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}

	var got analysis.GameAnalysis
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != canned.ID || len(got.Moves) != 2 {
		t.Errorf("got %+v", got)
	}
	if got.Moves[0].Quality != analysis.Best {
		t.Errorf("quality round trip = %v", got.Moves[0].Quality)
	}

	// The analysis is retrievable afterwards.
	if _, err := st.Get(context.Background(), canned.ID); err != nil {
		t.Errorf("stored analysis missing: %v", err)
	}
}

func TestAnalyzeEndpointBadRequests(t *testing.T) {
	h, _ := newTestRouter(t, &stubAnalyzer{result: cannedAnalysis()}, nil)

	tests := []struct {
		name string
		body any
	}{
		{"empty pgn", map[string]string{"pgn": ""}},
		{"malformed pgn", map[string]string{"pgn": "1. zz9"}},
		{"no moves", map[string]string{"pgn": "[White \"x\"]\n\n*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postJSON(t, h, "/v1/analyze", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d", w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-json status = %d", w.Code)
	}
}

func TestAnalyzeEndpointPipelineFailure(t *testing.T) {
	failed := &analysis.GameAnalysis{ID: uuid.New(), State: analysis.StateFailed, Error: "no engine"}
	h, _ := newTestRouter(t, &stubAnalyzer{result: failed, err: errors.New("no engine")}, nil)

	w := postJSON(t, h, "/v1/analyze", map[string]string{"pgn": "1. e4 e5"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	var got analysis.GameAnalysis
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.State != analysis.StateFailed {
		t.Errorf("state = %v", got.State)
	}
}

func TestGetAnalysis(t *testing.T) {
	canned := cannedAnalysis()
	h, st := newTestRouter(t, &stubAnalyzer{result: canned}, nil)
	if err := st.Save(context.Background(), canned); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+canned.ID.String(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	t.Run("unknown id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+uuid.NewString(), nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses/not-a-uuid", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestReviewEndpoint(t *testing.T) {
	canned := cannedAnalysis()
	reviewer := &stubReviewer{
		configured: true,
		rev:        &review.Review{Summary: "# Game Summary", Markdown: true},
	}
	h, _ := newTestRouter(t, &stubAnalyzer{result: canned}, reviewer)

	w := postJSON(t, h, "/v1/review", map[string]string{"pgn": "1. e4 e5", "username": "magnus"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}

	var got struct {
		Analysis analysis.GameAnalysis `json:"analysis"`
		Review   review.Review         `json:"review"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Review.Summary != "# Game Summary" {
		t.Errorf("review = %+v", got.Review)
	}
	if reviewer.lastReq.Username != "magnus" {
		t.Errorf("reviewer got %+v", reviewer.lastReq)
	}
}

func TestReviewEndpointNotConfigured(t *testing.T) {
	h, _ := newTestRouter(t, &stubAnalyzer{result: cannedAnalysis()}, &stubReviewer{configured: false})
	if w := postJSON(t, h, "/v1/review", map[string]string{"pgn": "1. e4"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}

	hNil, _ := newTestRouter(t, &stubAnalyzer{result: cannedAnalysis()}, nil)
	if w := postJSON(t, hNil, "/v1/review", map[string]string{"pgn": "1. e4"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("nil reviewer status = %d", w.Code)
	}
}

func TestHealthAndStats(t *testing.T) {
	h, _ := newTestRouter(t, &stubAnalyzer{result: cannedAnalysis()}, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["evaluated"] != float64(42) {
		t.Errorf("stats = %v", stats)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Error("missing request id header")
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, &stubAnalyzer{result: cannedAnalysis()}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/analyze", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestAnalyzeWebsocket(t *testing.T) {
	canned := cannedAnalysis()
	h, _ := newTestRouter(t, &stubAnalyzer{result: canned}, nil)

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/analyze/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"pgn": "1. e4 e5"}); err != nil {
		t.Fatal(err)
	}

	var plies, progress int
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (progress=%d plies=%d)", err, progress, plies)
		}
		switch msg.Type {
		case "progress":
			progress++
		case "ply":
			plies++
			if msg.Ply == nil {
				t.Fatal("ply message without ply")
			}
		case "result":
			if msg.Analysis == nil || msg.Analysis.ID != canned.ID {
				t.Fatalf("result = %+v", msg)
			}
			if plies != 2 || progress == 0 {
				t.Errorf("progress=%d plies=%d", progress, plies)
			}
			return
		case "error":
			t.Fatalf("unexpected error: %s", msg.Error)
		}
	}
}

func TestAnalyzeWebsocketBadPGN(t *testing.T) {
	h, _ := newTestRouter(t, &stubAnalyzer{result: cannedAnalysis()}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/analyze/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"pgn": "garbage"}); err != nil {
		t.Fatal(err)
	}

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "error" {
		t.Errorf("type = %q", msg.Type)
	}
}
