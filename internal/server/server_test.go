package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pitchside-ai/pitchside/internal/conversation"
	"github.com/pitchside-ai/pitchside/internal/extract"
	"github.com/pitchside-ai/pitchside/internal/resilience"
	"github.com/pitchside-ai/pitchside/internal/schema"
	"github.com/pitchside-ai/pitchside/internal/segment"
	"github.com/pitchside-ai/pitchside/internal/server"
	"github.com/pitchside-ai/pitchside/internal/store"
	"github.com/pitchside-ai/pitchside/internal/voicecmd"
	"github.com/pitchside-ai/pitchside/pkg/audio"
	llmmock "github.com/pitchside-ai/pitchside/pkg/provider/llm/mock"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt"
	sttmock "github.com/pitchside-ai/pitchside/pkg/provider/stt/mock"
	"github.com/pitchside-ai/pitchside/pkg/provider/vad"
	vadmock "github.com/pitchside-ai/pitchside/pkg/provider/vad/mock"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

// event mirrors the server's wire envelope for decoding in tests.
type event struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id"`
	Text      string               `json:"text"`
	Result    *conversation.Result `json:"result"`
	Status    *conversation.Status `json:"status"`
}

const fullFitnessJSON = `{
	"fields": {"activity_name": "run", "duration_minutes": 30, "intensity": 7, "mental_state": "motivated"},
	"confidence": {"activity_name": 0.95, "duration_minutes": 0.92, "intensity": 0.9, "mental_state": 0.85}
}`

// newTestServer assembles a Server over scripted mock providers and an
// in-memory store.
func newTestServer(t *testing.T, sttScript []sttmock.Result, llmScript []llmmock.Result) (*httptest.Server, *store.MemStore) {
	t.Helper()

	reg := schema.Builtin()

	group := resilience.NewFallbackGroup[stt.Provider]("mock",
		&sttmock.Provider{Script: sttScript},
		resilience.FallbackConfig{MaxFailures: 100},
	)

	ex, err := extract.New(&llmmock.Provider{Script: llmScript}, reg)
	if err != nil {
		t.Fatalf("extract.New: %v", err)
	}

	newBuffer := func() (*segment.Buffer, error) {
		verdicts := make([]bool, 512)
		for i := range verdicts {
			verdicts[i] = true
		}
		eng := &vadmock.Engine{Detector: &vadmock.Detector{Verdicts: verdicts}}
		return segment.New(eng, segment.Config{
			Format:       testFormat,
			VAD:          vad.Config{Format: testFormat, FrameSizeMs: 20},
			MaxUtterance: time.Minute,
		})
	}

	st := store.NewMemStore()

	srv, err := server.New(server.Deps{
		Engine: conversation.Deps{
			Schemas:       reg,
			Transcriber:   group,
			Extractor:     ex,
			CancelPhrases: voicecmd.New(),
			NewBuffer:     newBuffer,
			Config:        conversation.Config{RetryBaseDelay: time.Millisecond},
		},
		Store: st,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Manager().Close(ctx)
	})
	return ts, st
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/conversations"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("command write: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("event read: %v", err)
	}
	var evt event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("event unmarshal: %v", err)
	}
	return evt
}

func say(text string) sttmock.Result {
	return sttmock.Result{Transcript: stt.Transcript{Text: text, Confidence: sttmock.Conf(0.95)}}
}

func TestConversationOverWebSocket(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t,
		[]sttmock.Result{say("30 minute run, intensity 7, felt motivated")},
		[]llmmock.Result{{Content: fullFitnessJSON}},
	)
	conn := dial(t, ts)

	sendCommand(t, conn, map[string]any{
		"type":          "open",
		"user_id":       "user-1",
		"activity_type": "fitness",
	})
	opened := readEvent(t, conn)
	if opened.Type != "opened" {
		t.Fatalf("event type = %q, want opened", opened.Type)
	}
	if opened.SessionID == "" {
		t.Fatal("opened event carries no session id")
	}

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatalf("audio write: %v", err)
	}
	sendCommand(t, conn, map[string]any{"type": "end_utterance"})

	result := readEvent(t, conn)
	if result.Type != "result" {
		t.Fatalf("event type = %q, want result", result.Type)
	}
	if result.Result == nil || result.Result.State != conversation.StateCompleted {
		t.Fatalf("result = %+v, want COMPLETED", result.Result)
	}

	if st.Len() != 1 {
		t.Errorf("store holds %d records, want 1", st.Len())
	}
}

func TestFollowupPromptDelivered(t *testing.T) {
	t.Parallel()

	partial := `{
		"fields": {"activity_name": "run"},
		"confidence": {"activity_name": 0.9}
	}`
	ts, _ := newTestServer(t,
		[]sttmock.Result{say("went for a run")},
		[]llmmock.Result{{Content: partial}},
	)
	conn := dial(t, ts)

	sendCommand(t, conn, map[string]any{
		"type": "open", "user_id": "u", "activity_type": "fitness",
	})
	readEvent(t, conn) // opened

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatalf("audio write: %v", err)
	}
	sendCommand(t, conn, map[string]any{"type": "end_utterance"})

	prompt := readEvent(t, conn)
	if prompt.Type != "prompt" {
		t.Fatalf("event type = %q, want prompt", prompt.Type)
	}
	if prompt.Text == "" {
		t.Error("prompt event carries no text")
	}
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil)
	conn := dial(t, ts)

	sendCommand(t, conn, map[string]any{
		"type": "open", "user_id": "u", "activity_type": "cricket_match",
	})
	opened := readEvent(t, conn)

	sendCommand(t, conn, map[string]any{"type": "status"})
	status := readEvent(t, conn)
	if status.Type != "status" {
		t.Fatalf("event type = %q, want status", status.Type)
	}
	if status.Status == nil || status.Status.State != conversation.StateStarted {
		t.Fatalf("status = %+v, want STARTED", status.Status)
	}
	if status.Status.SessionID != opened.SessionID {
		t.Errorf("status session id = %q, want %q", status.Status.SessionID, opened.SessionID)
	}
}

func TestAudioWithoutSessionIsRejected(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil)
	conn := dial(t, ts)

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatalf("audio write: %v", err)
	}
	evt := readEvent(t, conn)
	if evt.Type != "error" {
		t.Fatalf("event type = %q, want error", evt.Type)
	}
}

func TestCancelCommandAbandons(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t, nil, nil)
	conn := dial(t, ts)

	sendCommand(t, conn, map[string]any{
		"type": "open", "user_id": "u", "activity_type": "rest_day",
	})
	readEvent(t, conn) // opened

	sendCommand(t, conn, map[string]any{"type": "cancel"})

	result := readEvent(t, conn)
	if result.Type != "result" {
		t.Fatalf("event type = %q, want result", result.Type)
	}
	if result.Result.State != conversation.StateAbandoned {
		t.Errorf("state = %s, want ABANDONED", result.Result.State)
	}
	if result.Result.Reason != conversation.ReasonCancelled {
		t.Errorf("reason = %s, want cancelled", result.Result.Reason)
	}

	waitForRecords(t, st, 1)
}

func TestDisconnectAbandonsSession(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t, nil, nil)
	conn := dial(t, ts)

	sendCommand(t, conn, map[string]any{
		"type": "open", "user_id": "u", "activity_type": "fitness",
	})
	readEvent(t, conn) // opened

	conn.Close(websocket.StatusNormalClosure, "gone")

	waitForRecords(t, st, 1)
	recs, err := st.ListSessions(context.Background(), "u", store.Window{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if recs[0].State != conversation.StateAbandoned {
		t.Errorf("state = %s, want ABANDONED", recs[0].State)
	}
}

// waitForRecords polls the store until n records are archived; termination on
// disconnect is asynchronous.
func waitForRecords(t *testing.T, st *store.MemStore, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for st.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("store holds %d records, want %d", st.Len(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t, nil, nil)

	rec := conversation.Record{
		SessionID:         "s-1",
		UserID:            "u-1",
		ActivityType:      schema.ActivityFitness,
		State:             conversation.StateCompleted,
		EndedAt:           time.Now(),
		Turns:             []conversation.Turn{{TurnNumber: 1}},
		DataQualityScore:  0.9,
		OverallConfidence: 0.9,
	}
	if err := st.Archive(context.Background(), rec); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/analytics?user_id=u-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats struct {
		TotalConversations int     `json:"total_conversations"`
		CompletionRate     float64 `json:"completion_rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalConversations != 1 {
		t.Errorf("total = %d, want 1", stats.TotalConversations)
	}
	if stats.CompletionRate != 1.0 {
		t.Errorf("completion rate = %v, want 1.0", stats.CompletionRate)
	}
}

func TestAnalyticsRequiresUserID(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil)
	resp, err := http.Get(ts.URL + "/v1/analytics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
