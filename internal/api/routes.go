// Package api exposes the Reward Orchestrator's eight operations
// (spec.md §6) as a Gin HTTP surface plus a websocket dashboard stream,
// grounded on the teacher's api/routes.go composition: a CORS middleware
// reading an env allowlist, a public route group and an authenticated,
// rate-limited one, and a Hub wired in as a broadcast side channel.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/internal/orchestrator"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// Handler binds the Orchestrator and Hub to Gin route handlers.
type Handler struct {
	engine         *orchestrator.Orchestrator
	hub            *Hub
	logger         zerolog.Logger
	authToken      string
	allowedOrigins string
}

// NewHandler constructs a Handler. authToken is the bearer token
// required on authenticated routes (empty disables auth, dev mode);
// allowedOrigins is a comma-separated CORS allowlist ("*" allows all).
func NewHandler(engine *orchestrator.Orchestrator, hub *Hub, logger zerolog.Logger, authToken, allowedOrigins string) *Handler {
	return &Handler{engine: engine, hub: hub, logger: logger, authToken: authToken, allowedOrigins: allowedOrigins}
}

// SetupRouter builds the full Gin engine: CORS, public routes, and an
// authenticated/rate-limited group for the eight mutating/query operations.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.logger))
	r.Use(corsMiddleware(h.allowedOrigins))

	public := r.Group("/api/v1")
	{
		public.GET("/health", h.handleHealth)
		public.GET("/stream", func(c *gin.Context) { h.hub.Subscribe(c) })
	}

	startLimiter := NewKeyedRateLimiter(1, time.Minute, 1, "start_session: 1/min")
	claimLimiter := NewKeyedRateLimiter(1, 10*time.Second, 1, "claim: 1/10s")
	cardLimiter := NewKeyedRateLimiter(10, 5*time.Minute, 10, "card activation: 10/5min")
	referralLimiter := NewKeyedRateLimiter(5, time.Hour, 5, "referral apply: 5/h")

	auth := r.Group("/api/v1/users/:user_id")
	auth.Use(AuthMiddleware(h.authToken, h.logger))
	{
		auth.POST("/activity", h.handleProcessActivity)
		auth.POST("/mining/start", startLimiter.Middleware(userIDKey), h.handleStartMining)
		auth.POST("/mining/claim", claimLimiter.Middleware(userIDKey), h.handleClaimMining)
		auth.POST("/mining/stop", h.handleStopMining)
		auth.POST("/cards/:card_id/activate", cardLimiter.Middleware(userIDKey), h.handleActivateCard)
		auth.POST("/referral", referralLimiter.Middleware(userIDKey), h.handleApplyReferral)
		auth.GET("/rate", h.handleQueryRate)
		auth.GET("/stats", h.handleQueryStats)
	}

	return r
}

// corsMiddleware mirrors the teacher's ALLOWED_ORIGINS-driven CORS
// handling: an empty or "*" value allows every origin, otherwise only
// the configured list is echoed back.
func corsMiddleware(allowed string) gin.HandlerFunc {
	var list []string
	if allowed != "" && allowed != "*" {
		list = strings.Split(allowed, ",")
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed == "" || allowed == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			for _, o := range list {
				if strings.TrimSpace(o) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					c.Header("Access-Control-Allow-Credentials", "true")
					break
				}
			}
		}
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("api: request handled")
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "finova-reward-engine",
	})
}

// Response DTOs keep the HTTP wire format stable and snake_case
// independent of the internal domain structs' Go field names.

type rewardOutcomeResponse struct {
	UserID        models.UserId          `json:"user_id"`
	EventRef      string                 `json:"event_ref"`
	XPGained      uint64                 `json:"xp_gained"`
	RPCreditDelta int64                  `json:"rp_credit_delta"`
	FinAccrued    int64                  `json:"fin_accrued"`
	Factors       models.FactorBreakdown `json:"factors"`
	IntentCount   int                    `json:"intent_count"`
	Degraded      bool                   `json:"degraded"`
	LevelUp       bool                   `json:"level_up"`
	TierChange    bool                   `json:"tier_change"`
	NewLevel      uint16                 `json:"new_level"`
	NewTier       models.RPTier          `json:"new_tier"`
}

type miningSessionResponse struct {
	SessionID          string    `json:"session_id"`
	Status             string    `json:"status"`
	StartedAt          time.Time `json:"started_at"`
	CurrentRatePerHour int64     `json:"current_rate_per_hour"`
	AccruedUnclaimed   int64     `json:"accrued_unclaimed"`
}

type claimResponse struct {
	Amount      int64 `json:"amount"`
	IntentCount int   `json:"intent_count"`
}

type stopMiningResponse struct {
	TotalEarned int64 `json:"total_earned"`
	DurationS   int64 `json:"duration_s"`
}

type cardEffectResponse struct {
	CardID        string     `json:"card_id"`
	InstanceID    string     `json:"instance_id"`
	Category      string     `json:"category"`
	Multiplier    float64    `json:"multiplier"`
	DurationHours uint32     `json:"duration_hours"`
	ActivatedAt   time.Time  `json:"activated_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type rateResponse struct {
	CurrentRatePerHour int64  `json:"current_rate_per_hour"`
	DailyCap           int64  `json:"daily_cap"`
	TodayEarned        int64  `json:"today_earned"`
	Phase              string `json:"phase"`
}

type statsResponse struct {
	UserID       models.UserId `json:"user_id"`
	XPTotal      uint64        `json:"xp_total"`
	Level        uint16        `json:"level"`
	RPTotal      uint64        `json:"rp_total"`
	RPTier       string        `json:"rp_tier"`
	Holdings     int64         `json:"holdings"`
	StreakDays   uint32        `json:"streak_days"`
	L1Active     int           `json:"l1_active"`
	L2Active     int           `json:"l2_active"`
	L3Active     int           `json:"l3_active"`
	QualityScore float64       `json:"quality_score"`
}

type processActivityRequest struct {
	ClientEventID   string `json:"client_event_id" binding:"required"`
	Platform        string `json:"platform" binding:"required"`
	Kind            string `json:"kind" binding:"required"`
	ContentRef      string `json:"content_ref"`
	ObservedAt      time.Time `json:"observed_at"`
	ClientSignature string `json:"client_signature"`
}

func (h *Handler) handleProcessActivity(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	var req processActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	event := models.ActivityEvent{
		UserID:          userID,
		ClientEventID:   req.ClientEventID,
		Platform:        models.Platform(req.Platform),
		Kind:            models.ActivityKind(req.Kind),
		ContentRef:      req.ContentRef,
		ObservedAt:      observedAt,
		ClientSignature: req.ClientSignature,
	}
	outcome, err := h.engine.ProcessActivity(c.Request.Context(), event)
	if err != nil {
		writeError(c, err)
		return
	}
	if outcome.LevelUp {
		h.hub.Publish(DashboardEvent{Type: "level_up", UserID: userID, Detail: outcome.NewLevel, At: time.Now()})
	}
	if outcome.TierChange {
		h.hub.Publish(DashboardEvent{Type: "tier_change", UserID: userID, Detail: outcome.NewTier, At: time.Now()})
	}
	c.JSON(http.StatusOK, rewardOutcomeResponse{
		UserID:        outcome.UserID,
		EventRef:      outcome.EventRef,
		XPGained:      outcome.XPGained,
		RPCreditDelta: outcome.RPCreditDelta,
		FinAccrued:    outcome.FinAccrued,
		Factors:       outcome.Factors,
		IntentCount:   len(outcome.Intents),
		Degraded:      outcome.Degraded,
		LevelUp:       outcome.LevelUp,
		TierChange:    outcome.TierChange,
		NewLevel:      outcome.NewLevel,
		NewTier:       outcome.NewTier,
	})
}

func (h *Handler) handleStartMining(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	sess, err := h.engine.StartMining(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, miningSessionResponse{
		SessionID:          sess.SessionID,
		Status:             string(sess.Status),
		StartedAt:          sess.StartedAt,
		CurrentRatePerHour: sess.CurrentRatePerHour,
		AccruedUnclaimed:   sess.AccruedUnclaimed,
	})
}

func (h *Handler) handleClaimMining(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	result, err := h.engine.ClaimMining(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, claimResponse{Amount: result.Amount, IntentCount: len(result.Intents)})
}

func (h *Handler) handleStopMining(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	result, err := h.engine.StopMining(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stopMiningResponse{TotalEarned: result.TotalEarned, DurationS: result.DurationS})
}

func (h *Handler) handleActivateCard(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	cardID := c.Param("card_id")
	effect, err := h.engine.ActivateCard(c.Request.Context(), userID, cardID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cardEffectResponse{
		CardID:        effect.CardID,
		InstanceID:    effect.InstanceID,
		Category:      string(effect.Category),
		Multiplier:    effect.Multiplier,
		DurationHours: effect.DurationHours,
		ActivatedAt:   effect.ActivatedAt,
		ExpiresAt:     effect.ExpiresAt,
	})
}

type applyReferralRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
}

func (h *Handler) handleApplyReferral(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	var req applyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.engine.ApplyReferral(c.Request.Context(), userID, models.UserId(req.ReferrerID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"referrer_id":   result.ReferrerID,
		"initial_bonus": result.InitialBonus,
	})
}

func (h *Handler) handleQueryRate(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	rate, err := h.engine.QueryRate(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rateResponse{
		CurrentRatePerHour: rate.CurrentRatePerHour,
		DailyCap:           rate.DailyCap,
		TodayEarned:        rate.TodayEarned,
		Phase:              string(rate.Phase),
	})
}

func (h *Handler) handleQueryStats(c *gin.Context) {
	userID := models.UserId(c.Param("user_id"))
	stats, err := h.engine.QueryStats(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statsResponse{
		UserID:       stats.User.ID,
		XPTotal:      stats.User.XPTotal,
		Level:        stats.Level.Level,
		RPTotal:      stats.User.RPTotal,
		RPTier:       string(stats.User.RPTier),
		Holdings:     stats.User.Holdings,
		StreakDays:   stats.User.StreakDays,
		L1Active:     stats.Snapshot.L1Active,
		L2Active:     stats.Snapshot.L2Active,
		L3Active:     stats.Snapshot.L3Active,
		QualityScore: stats.Snapshot.QualityScore,
	})
}
