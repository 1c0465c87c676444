package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"outreach-platform/internal/auth"
	"outreach-platform/internal/billing"
	"outreach-platform/internal/cadence"
	"outreach-platform/internal/dispatch"
	"outreach-platform/internal/ledger"
	"outreach-platform/internal/touch"

	"github.com/gin-gonic/gin"
)

func testRouter(t *testing.T, h Handlers) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "user-1", "acct-1", "owner")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.POST("/v1/touches", h.EnqueueTouch)
	r.POST("/v1/dispatch/run", h.RunDispatch)
	r.POST("/v1/usage/events", h.RecordUsageEvent)
	r.POST("/v1/billing/statements/finalize", h.FinalizeStatement)
	r.GET("/v1/billing/statements", h.GetStatement)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueueTouch_InsertsFirstStepQueued(t *testing.T) {
	q := touch.NewMemoryQueue()
	r := testRouter(t, Handlers{
		Strategies: cadence.NewStrategyCache(nil, 0),
		Builder:    cadence.NewBuilder(),
		Touches:    q,
	})

	w := postJSON(t, r, "/v1/touches", map[string]any{
		"campaign": map[string]any{
			"id":         "camp-1",
			"account_id": "someone-else", // must be overridden by the identity
		},
		"lead": map[string]any{
			"id":         "lead-1",
			"account_id": "someone-else",
			"first_name": "Ada",
			"phone":      "+15550001111",
		},
		"variables": map[string]string{"company": "Acme"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var run touch.TouchRun
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.AccountID != "acct-1" {
		t.Fatalf("account must come from identity, got %q", run.AccountID)
	}
	if run.Status != touch.StatusQueued || run.Step != 1 {
		t.Fatalf("expected queued step 1, got %+v", run)
	}
	if run.Channel != touch.ChannelVoice {
		t.Fatalf("default order starts with voice, got %s", run.Channel)
	}

	stored, err := q.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run not inserted: %v", err)
	}
	if !stored.ScheduledAt.After(time.Now().Add(-time.Minute)) {
		t.Fatalf("first step should be immediately due, got %v", stored.ScheduledAt)
	}
}

func TestEnqueueTouch_UnroutableLeadIs400(t *testing.T) {
	q := touch.NewMemoryQueue()
	r := testRouter(t, Handlers{
		Strategies: cadence.NewStrategyCache(nil, 0),
		Builder:    cadence.NewBuilder(),
		Touches:    q,
	})

	// Step 1 is voice by default and this lead has no phone.
	w := postJSON(t, r, "/v1/touches", map[string]any{
		"campaign": map[string]any{"id": "camp-1"},
		"lead":     map[string]any{"id": "lead-1", "email": "ada@example.com"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unroutable lead, got %d: %s", w.Code, w.Body.String())
	}

	dnc := postJSON(t, r, "/v1/touches", map[string]any{
		"campaign": map[string]any{"id": "camp-1"},
		"lead":     map[string]any{"id": "lead-2", "phone": "+15550002222", "do_not_contact": true},
	})
	if dnc.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for do-not-contact lead, got %d", dnc.Code)
	}
}

func TestRecordUsageEvent_ScopedToCallerAccount(t *testing.T) {
	repo := ledger.NewMemoryRepo()
	r := testRouter(t, Handlers{Ledger: ledger.NewService(repo)})

	w := postJSON(t, r, "/v1/usage/events", map[string]any{
		"channel":         "sms",
		"provider":        "twilio",
		"ref_id":          "m1",
		"source":          "webhook",
		"units":           1,
		"unit_cost_cents": 5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var entry ledger.UsageLedgerEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.AccountID != "acct-1" {
		t.Fatalf("account must come from identity, got %q", entry.AccountID)
	}
	if entry.AmountCents != 5 {
		t.Fatalf("unexpected amount: %d", entry.AmountCents)
	}

	// Webhook replay: same natural key, same row, still 200.
	again := postJSON(t, r, "/v1/usage/events", map[string]any{
		"channel":         "sms",
		"provider":        "twilio",
		"ref_id":          "m1",
		"source":          "webhook",
		"units":           100,
		"unit_cost_cents": 9,
	})
	if again.Code != http.StatusOK {
		t.Fatalf("replay expected 200, got %d", again.Code)
	}
	var replay ledger.UsageLedgerEntry
	if err := json.Unmarshal(again.Body.Bytes(), &replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if replay.ID != entry.ID || replay.AmountCents != 5 {
		t.Fatalf("replay must return the original row: %+v", replay)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected one ledger row, got %d", repo.Len())
	}
}

func TestRecordUsageEvent_ValidationIs400(t *testing.T) {
	r := testRouter(t, Handlers{Ledger: ledger.NewService(ledger.NewMemoryRepo())})

	w := postJSON(t, r, "/v1/usage/events", map[string]any{
		"channel":  "voice",
		"provider": "gateway",
		"ref_id":   "c1",
		"source":   "webhook",
		"units":    10000,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for capped voice units, got %d", w.Code)
	}
}

func TestFinalizeAndGetStatement(t *testing.T) {
	entries := ledger.NewMemoryRepo()
	ledgerSvc := ledger.NewService(entries)
	billingSvc := billing.NewService(billing.NewMemoryRepo(), entries)
	r := testRouter(t, Handlers{Ledger: ledgerSvc, Billing: billingSvc})

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	usage := postJSON(t, r, "/v1/usage/events", map[string]any{
		"channel":         "sms",
		"provider":        "twilio",
		"ref_id":          "m1",
		"source":          "dispatch_engine",
		"units":           1,
		"unit_cost_cents": 5,
		"occurred_at":     start.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if usage.Code != http.StatusOK {
		t.Fatalf("usage seed failed: %d %s", usage.Code, usage.Body.String())
	}

	w := postJSON(t, r, "/v1/billing/statements/finalize", map[string]any{
		"period_start": start.Format(time.RFC3339),
		"period_end":   end.Format(time.RFC3339),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("finalize expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var st billing.BillingStatement
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode statement: %v", err)
	}
	if st.Status != billing.StatusFinalized || st.Totals.AmountCents != 5 {
		t.Fatalf("unexpected statement: %+v", st)
	}

	path := fmt.Sprintf("/v1/billing/statements?period_start=%s&period_end=%s",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	got := httptest.NewRecorder()
	r.ServeHTTP(got, req)
	if got.Code != http.StatusOK {
		t.Fatalf("get expected 200, got %d: %s", got.Code, got.Body.String())
	}

	missing := httptest.NewRequest(http.MethodGet,
		"/v1/billing/statements?period_start=2024-01-01T00:00:00Z&period_end=2024-02-01T00:00:00Z", nil)
	notFound := httptest.NewRecorder()
	r.ServeHTTP(notFound, missing)
	if notFound.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown period, got %d", notFound.Code)
	}
}

func TestRunDispatch_ReturnsSummary(t *testing.T) {
	q := touch.NewMemoryQueue()
	now := time.Now().UTC()
	run := touch.TouchRun{
		ID: "t1", AccountID: "acct-1", LeadID: "lead-1", Channel: touch.ChannelSMS,
		Step: 1, ScheduledAt: now.Add(-time.Minute), Status: touch.StatusQueued,
	}
	if err := q.Insert(context.Background(), run); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reg := dispatch.NewRegistry().RegisterDefault(dispatch.SenderFunc(
		func(_ context.Context, inv dispatch.Invocation) (dispatch.SendResult, error) {
			return dispatch.SendResult{Provider: "sim", RefID: "r-" + inv.TouchRunID}, nil
		}))
	eng := dispatch.NewEngine(q, reg, nil, nil)
	r := testRouter(t, Handlers{Engine: eng})

	w := postJSON(t, r, "/v1/dispatch/run", map[string]any{"dry_run": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum dispatch.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Claimed != 1 || sum.Processed != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Results[0].Status != touch.StatusCanceled {
		t.Fatalf("dry run must cancel, got %s", sum.Results[0].Status)
	}
}
