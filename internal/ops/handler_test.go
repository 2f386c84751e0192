package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/jobstore"
	"github.com/vnmchuo/botfleet/internal/pricing"
	"github.com/vnmchuo/botfleet/internal/queue"
	"github.com/vnmchuo/botfleet/internal/telemetry"
	"github.com/vnmchuo/botfleet/internal/usage"
)

type fakeUsageStore struct {
	logs []*usage.Log
}

func (f *fakeUsageStore) LogCall(ctx context.Context, log *usage.Log) error {
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeUsageStore) GetUsageByBot(ctx context.Context, botID string, from, to time.Time) ([]*usage.Log, error) {
	var out []*usage.Log
	for _, l := range f.logs {
		if l.BotID == botID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeUsageStore) GetTotalCostByBot(ctx context.Context, botID string, from, to time.Time) (int64, error) {
	var total int64
	for _, l := range f.logs {
		if l.BotID == botID {
			total += l.CostCents
		}
	}
	return total, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Handler, *jobstore.MemoryStore, *fakeUsageStore) {
	t.Helper()

	jobs := jobstore.NewMemoryStore()
	q := queue.New(jobs, slog.Default())
	rec := telemetry.NewRecorder(10, pricing.Default(), nil)
	usageStore := &fakeUsageStore{}
	h := NewHandler(rec, usageStore, jobs, q, fleet.NewMemoryStore())

	r := chi.NewRouter()
	r.Get("/v1/stats", h.HandleStats)
	r.Get("/v1/usage", h.HandleUsage)
	r.Get("/v1/bots", h.HandleListBots)
	r.Post("/v1/jobs", h.HandleEnqueueJob)
	r.Get("/v1/jobs/{id}", h.HandleGetJob)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h, jobs, usageStore
}

func TestHandleStats(t *testing.T) {
	srv, h, _, _ := newTestServer(t)

	_, _ = h.rec.Track(context.Background(),
		telemetry.Call{Kind: telemetry.KindCaption, Provider: "openai", Model: pricing.ModelChatCheap},
		func(ctx context.Context) (string, error) { return "hi", nil })

	resp, err := http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var stats telemetry.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stats.TotalCalls != 1 || stats.Successes != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHandleUsage(t *testing.T) {
	srv, _, _, usageStore := newTestServer(t)

	usageStore.logs = []*usage.Log{
		{BotID: "bot-1", Capability: "caption", Provider: "openai", Success: true, CostCents: 2},
		{BotID: "bot-1", Capability: "video", Provider: "veo", Success: true, CostCents: 150},
		{BotID: "bot-2", Capability: "caption", Provider: "openai", Success: true, CostCents: 1},
	}

	resp, err := http.Get(srv.URL + "/v1/usage?bot_id=bot-1")
	if err != nil {
		t.Fatalf("GET /v1/usage failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		TotalCalls     int    `json:"total_calls"`
		TotalCostCents int64  `json:"total_cost_cents"`
		BotID          string `json:"bot_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.TotalCalls != 2 || body.TotalCostCents != 152 {
		t.Errorf("Unexpected usage rollup: %+v", body)
	}
}

func TestHandleUsageValidation(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, _ := http.Get(srv.URL + "/v1/usage")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without bot_id, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/v1/usage?bot_id=b&from=not-a-date")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad from date, got %d", resp.StatusCode)
	}
}

func TestHandleEnqueueAndGetJob(t *testing.T) {
	srv, _, jobs, _ := newTestServer(t)

	body := `{"kind":"bot.publish_post","bot_id":"bot-1","payload":{"media_kind":"image"},"max_attempts":2}`
	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var created jobstore.Job
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if created.Kind != jobstore.KindPublishPost || created.MaxAttempts != 2 {
		t.Errorf("Unexpected created job: %+v", created)
	}

	stored, err := jobs.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Job not persisted: %v", err)
	}
	if stored.Status != jobstore.StatusQueued {
		t.Errorf("Expected QUEUED, got %s", stored.Status)
	}

	getResp, err := http.Get(srv.URL + "/v1/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("GET /v1/jobs/{id} failed: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", getResp.StatusCode)
	}
}

func TestHandleEnqueueValidation(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, _ := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(`{"bot_id":"x"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without kind, got %d", resp.StatusCode)
	}
}

func TestHandleGetJobNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, _ := http.Get(srv.URL + "/v1/jobs/nope")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestAdminAuth(t *testing.T) {
	protected := AdminAuth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv := httptest.NewServer(protected)
	defer srv.Close()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest("GET", srv.URL, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
}

func TestAdminAuthDisabled(t *testing.T) {
	protected := AdminAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv := httptest.NewServer(protected)
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 with no token configured, got %d", resp.StatusCode)
	}
}
