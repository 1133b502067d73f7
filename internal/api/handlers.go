package api

import (
	"context"
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"smsgateway/internal/admin"
	"smsgateway/internal/domain"
	"smsgateway/internal/health"
	"smsgateway/internal/intake"
	"smsgateway/internal/store"
)

// maxTextLength bounds the SMS body accepted at the HTTP boundary.
const maxTextLength = 1600

// Pinger is anything the readiness check probes (the Postgres store, the
// Redis client).
type Pinger interface {
	Health(ctx context.Context) error
}

type Handlers struct {
	logger *zap.Logger
	intake *intake.Adapter
	admin  *admin.Adapter
	ready  []Pinger
}

func NewHandlers(logger *zap.Logger, intakeAdapter *intake.Adapter, adminAdapter *admin.Adapter, ready ...Pinger) *Handlers {
	return &Handlers{logger: logger, intake: intakeAdapter, admin: adminAdapter, ready: ready}
}

// SendRequest is the POST /v1/messages payload.
type SendRequest struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// SendResponse is the POST /v1/messages success body.
type SendResponse struct {
	RequestID string `json:"request_id"`
	Queued    bool   `json:"queued"`
}

// SendMessage handles POST /v1/messages
//
//	@Summary		Queue an SMS for dispatch
//	@Description	Accepts a (phone, text) pair, admits it against the global rate cap, and queues it for asynchronous delivery
//	@Tags			Messages
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SendRequest		true	"SMS request"
//	@Success		202		{object}	SendResponse	"Queued"
//	@Failure		400		{object}	map[string]string	"Bad request"
//	@Failure		429		{object}	map[string]string	"Global rate limit exceeded"
//	@Failure		503		{object}	map[string]string	"Queue or store unavailable"
//	@Router			/v1/messages [post]
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if !validPhone(req.Phone) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "phone must be E.164-like"})
	}
	if req.Text == "" || utf8.RuneCountInString(req.Text) > maxTextLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text must be non-empty and at most 1600 characters"})
	}

	requestID, err := h.intake.QueueSMS(c.Context(), req.Phone, req.Text)
	if err != nil {
		if errors.Is(err, intake.ErrGlobalRateLimited) {
			c.Set("Retry-After", "1")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		h.logger.Error("queue sms failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}

	return c.Status(fiber.StatusAccepted).JSON(SendResponse{RequestID: requestID.String(), Queued: true})
}

// RateLimits handles GET /v1/rate-limits: the current window count for the
// global scope and every provider.
func (h *Handlers) RateLimits(c *fiber.Ctx) error {
	stats, err := h.admin.RateLimitStats(c.Context())
	if err != nil {
		h.logger.Error("rate limit stats failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}

	out := make([]fiber.Map, 0, len(stats))
	for _, s := range stats {
		out = append(out, fiber.Map{
			"scope":     s.Scope,
			"count":     s.Count,
			"limit":     s.Limit,
			"remaining": s.Remaining,
		})
	}
	return c.JSON(fiber.Map{"rate_limits": out})
}

// ProviderHealth handles GET /v1/health and GET /v1/health/:provider.
func (h *Handlers) ProviderHealth(c *fiber.Ctx) error {
	providerID := c.Params("provider")
	if providerID != "" {
		st, err := h.admin.HealthStatus(c.Context(), providerID)
		if err != nil {
			h.logger.Error("health status failed", zap.String("provider_id", providerID), zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
		}
		return c.JSON(healthJSON(st))
	}

	all, err := h.admin.HealthStatusAll(c.Context())
	if err != nil {
		h.logger.Error("health status failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}
	out := make(fiber.Map, len(all))
	for id, st := range all {
		out[id] = healthJSON(st)
	}
	return c.JSON(out)
}

// ResetProviderHealth handles POST /v1/health/:provider/reset.
func (h *Handlers) ResetProviderHealth(c *fiber.Ctx) error {
	providerID := c.Params("provider")
	if err := h.admin.ResetHealth(c.Context(), providerID); err != nil {
		h.logger.Error("health reset failed", zap.String("provider_id", providerID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}
	return c.JSON(fiber.Map{"reset": providerID})
}

// DistributionStats handles GET /v1/distribution-stats.
func (h *Handlers) DistributionStats(c *fiber.Ctx) error {
	stats, err := h.admin.DistributionStats(c.Context())
	if err != nil {
		h.logger.Error("distribution stats failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}
	out := make([]fiber.Map, 0, len(stats))
	for _, s := range stats {
		out = append(out, fiber.Map{
			"provider_id": s.ProviderID,
			"weight":      s.Weight,
			"deficit":     s.Deficit,
			"healthy":     s.Healthy,
		})
	}
	return c.JSON(fiber.Map{"providers": out})
}

// ResetDistribution handles POST /v1/distribution/reset.
func (h *Handlers) ResetDistribution(c *fiber.Ctx) error {
	if err := h.admin.ResetDistribution(c.Context()); err != nil {
		h.logger.Error("distribution reset failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}
	return c.JSON(fiber.Map{"reset": true})
}

// ListRequests handles GET /v1/requests with optional status, provider,
// since, until (RFC 3339) and limit query parameters.
func (h *Handlers) ListRequests(c *fiber.Ctx) error {
	filter := store.ListFilter{
		Status:     domain.RequestStatus(c.Query("status")),
		ProviderID: c.Query("provider"),
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be RFC 3339"})
		}
		filter.Since = t
	}
	if raw := c.Query("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "until must be RFC 3339"})
		}
		filter.Until = t
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a positive integer"})
		}
		filter.Limit = n
	}

	requests, err := h.admin.ListRequests(c.Context(), filter)
	if err != nil {
		h.logger.Error("list requests failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}

	out := make([]fiber.Map, 0, len(requests))
	for _, r := range requests {
		out = append(out, requestJSON(r))
	}
	return c.JSON(fiber.Map{"requests": out})
}

// GetRequest handles GET /v1/requests/:id, returning the request plus its
// full attempt history.
func (h *Handlers) GetRequest(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}

	detail, err := h.admin.RequestDetail(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "request not found"})
		}
		h.logger.Error("request detail failed", zap.String("request_id", id.String()), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
	}

	attempts := make([]fiber.Map, 0, len(detail.Attempts))
	for _, a := range detail.Attempts {
		attempts = append(attempts, fiber.Map{
			"id":          a.ID,
			"provider_id": a.ProviderID,
			"started_at":  a.StartedAt,
			"ended_at":    a.EndedAt,
			"status":      a.Status,
			"http_status": a.HTTPStatus,
			"error":       a.ErrorMessage,
		})
	}
	resp := requestJSON(detail.Request)
	resp["attempts"] = attempts
	return c.JSON(resp)
}

// HealthCheck handles GET /healthz.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().Unix()})
}

// ReadyCheck handles GET /readyz, probing every registered backend.
func (h *Handlers) ReadyCheck(c *fiber.Ctx) error {
	for _, p := range h.ready {
		if err := p.Health(c.Context()); err != nil {
			h.logger.Warn("readiness probe failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
		}
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func healthJSON(st health.Status) fiber.Map {
	m := fiber.Map{
		"success":       st.Success,
		"failure":       st.Failure,
		"failure_ratio": st.FailureRatio,
		"unhealthy":     st.Unhealthy,
	}
	if st.Unhealthy && !st.UnhealthyUntil.IsZero() {
		m["unhealthy_until"] = st.UnhealthyUntil
	}
	return m
}

func requestJSON(r *domain.Request) fiber.Map {
	m := fiber.Map{
		"id":                 r.ID.String(),
		"phone":              r.Phone,
		"status":             r.Status,
		"attempts_count":     r.AttemptsCount,
		"excluded_providers": r.ExcludedProviders,
		"created_at":         r.CreatedAt,
		"updated_at":         r.UpdatedAt,
	}
	if r.LastProviderID != nil {
		m["last_provider_id"] = *r.LastProviderID
	}
	return m
}

// validPhone accepts an optional leading + followed by 7 to 15 digits.
// Stricter validation is the caller's concern.
func validPhone(phone string) bool {
	if phone == "" {
		return false
	}
	digits := phone
	if phone[0] == '+' {
		digits = phone[1:]
	}
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
