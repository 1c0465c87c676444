package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"outreach-platform/internal/auth"
	"outreach-platform/internal/billing"
	"outreach-platform/internal/cadence"
	"outreach-platform/internal/dispatch"
	"outreach-platform/internal/ledger"
	"outreach-platform/internal/rbac"
	"outreach-platform/internal/telemetry"
	"outreach-platform/internal/touch"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// TouchInserter is the queue write the enqueue endpoint needs. Both the
// Postgres repo and the in-memory queue satisfy it.
type TouchInserter interface {
	Insert(ctx context.Context, run touch.TouchRun) error
}

type Handlers struct {
	Auth       *auth.Manager
	Engine     *dispatch.Engine
	Ledger     *ledger.Service
	Billing    *billing.Service
	Strategies *cadence.StrategyCache
	Builder    *cadence.Builder
	Touches    TouchInserter
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AccountID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, account_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.AccountID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Dispatch ---

type dispatchRunRequest struct {
	DryRun      bool `json:"dry_run"`
	Batch       int  `json:"batch"`
	Concurrency int  `json:"concurrency"`
}

// RunDispatch triggers one dispatch pass and returns its summary.
// RBAC: owner or operator (or super_admin).
func (h Handlers) RunDispatch(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch not configured"})
		return
	}
	var req dispatchRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	sum, err := h.Engine.Run(c.Request.Context(), dispatch.Options{
		DryRun:      req.DryRun,
		BatchSize:   req.Batch,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch pass failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Touch enqueue ---

type enqueueTouchRequest struct {
	Campaign  cadence.Campaign  `json:"campaign"`
	Lead      cadence.Lead      `json:"lead"`
	DryRun    bool              `json:"dry_run,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// EnqueueTouch resolves the campaign's fallback strategy, renders the first
// cadence step for the lead and inserts it queued and immediately due. The
// caller's account overrides whatever account ids the body carries.
// RBAC: owner or operator (or super_admin).
func (h Handlers) EnqueueTouch(c *gin.Context) {
	if h.Strategies == nil || h.Builder == nil || h.Touches == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	var req enqueueTouchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Campaign.AccountID = accountID
	req.Lead.AccountID = accountID

	strategy, err := h.Strategies.Resolve(c.Request.Context(), req.Campaign)
	if err != nil {
		if errors.Is(err, cadence.ErrInvalidCampaign) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "strategy resolve failed"})
		return
	}
	run, err := h.Builder.BuildFirstTouchRun(strategy, req.Lead, cadence.Options{
		DryRun:    req.DryRun,
		Variables: req.Variables,
	})
	if err != nil {
		if errors.Is(err, cadence.ErrInvalidCampaign) || errors.Is(err, cadence.ErrLeadNotRoutable) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "touch build failed"})
		return
	}
	if err := h.Touches.Insert(c.Request.Context(), run); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "touch insert failed"})
		return
	}
	telemetry.TouchesEnqueued.Inc()
	c.JSON(http.StatusCreated, run)
}

// --- Usage ledger ---

type usageEventRequest struct {
	LeadID        string         `json:"lead_id,omitempty"`
	Channel       string         `json:"channel"`
	Provider      string         `json:"provider"`
	RefID         string         `json:"ref_id"`
	Source        string         `json:"source"`
	Units         int64          `json:"units"`
	UnitCostCents int64          `json:"unit_cost_cents"`
	OccurredAt    time.Time      `json:"occurred_at,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// RecordUsageEvent records one billable provider acceptance for the caller's
// account. Replays of the same event return the original row with 200.
// RBAC: owner, operator or finance (or super_admin).
func (h Handlers) RecordUsageEvent(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	var req usageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	entry, err := h.Ledger.RecordUsageEvent(c.Request.Context(), ledger.UsageEventInput{
		AccountID:     accountID,
		LeadID:        req.LeadID,
		Channel:       touch.Channel(req.Channel),
		Provider:      req.Provider,
		RefID:         req.RefID,
		Source:        req.Source,
		Units:         req.Units,
		UnitCostCents: req.UnitCostCents,
		OccurredAt:    req.OccurredAt,
		Meta:          req.Meta,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage record failed"})
		return
	}
	telemetry.UsageEventsRecorded.Inc()
	c.JSON(http.StatusOK, entry)
}

// --- Billing statements ---

type statementPeriodRequest struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// FinalizeStatement rolls the caller account's ledger rows for a period into
// a finalized snapshot. Re-finalizing the same period returns it unchanged.
// RBAC: owner or finance (or super_admin).
func (h Handlers) FinalizeStatement(c *gin.Context) {
	if h.Billing == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	var req statementPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	st, err := h.Billing.FinalizeStatement(c.Request.Context(), accountID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "statement finalize failed"})
		return
	}
	telemetry.StatementsFinalized.Inc()
	c.JSON(http.StatusOK, st)
}

// GetStatement reads one statement by its exact period key, passed as
// RFC3339 query params period_start and period_end.
func (h Handlers) GetStatement(c *gin.Context) {
	if h.Billing == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return
	}
	start, err := time.Parse(time.RFC3339, c.Query("period_start"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "period_start must be RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("period_end"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "period_end must be RFC3339"})
		return
	}
	st, err := h.Billing.GetStatement(c.Request.Context(), accountID, start, end)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "statement not found"})
			return
		}
		if errors.Is(err, billing.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "statement lookup failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// Convenience middleware bundles.

func RequireAccountAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireAccount(), rbac.RequireAnyRole(roles...)}
}
