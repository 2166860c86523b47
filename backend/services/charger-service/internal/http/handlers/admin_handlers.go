package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/auth"
	"ampease/backend/services/charger-service/internal/models"
	"ampease/backend/services/charger-service/internal/scheduler"
)

const operatorSubject = "operator"

// SessionInspector exposes scheduler state to operators.
type SessionInspector interface {
	Snapshot() models.Session
	LastReconcile() (scheduler.ReconcileResult, bool)
	Reconcile(ctx context.Context) (scheduler.ReconcileResult, error)
}

// PowerReader reads the physical relay state.
type PowerReader interface {
	IsOn(ctx context.Context) (bool, error)
}

// ActivationLister lists recent ledger entries.
type ActivationLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.Activation, error)
}

// AdminHandlers serves the operator endpoints.
type AdminHandlers struct {
	passwordHash string
	hasher       auth.Hasher
	tokens       *auth.TokenService
	sessions     SessionInspector
	device       PowerReader
	ledger       ActivationLister
	logger       *zap.Logger
	now          func() time.Time
}

// NewAdminHandlers creates the operator handlers. ledger may be nil.
func NewAdminHandlers(passwordHash string, hasher auth.Hasher, tokens *auth.TokenService, sessions SessionInspector, device PowerReader, ledger ActivationLister, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		passwordHash: passwordHash,
		hasher:       hasher,
		tokens:       tokens,
		sessions:     sessions,
		device:       device,
		ledger:       ledger,
		logger:       logger,
		now:          time.Now,
	}
}

// Login handles POST /admin/login.
func (h *AdminHandlers) Login(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Password string `json:"password"`
	}
	type response struct {
		Token     string    `json:"token"`
		TokenType string    `json:"token_type"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	var req request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	if err := h.hasher.Compare(h.passwordHash, req.Password); err != nil {
		h.logger.Warn("operator login rejected", zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.tokens.GenerateToken(operatorSubject)
	if err != nil {
		h.logger.Error("failed to issue operator token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}
	writeJSON(w, http.StatusOK, response{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}

type statusResponse struct {
	State             models.State               `json:"state"`
	Session           models.Session             `json:"session"`
	RemainingSeconds  int64                      `json:"remaining_seconds"`
	PhysicalOn        *bool                      `json:"physical_on,omitempty"`
	PhysicalError     string                     `json:"physical_error,omitempty"`
	LastReconcile     *scheduler.ReconcileResult `json:"last_reconcile,omitempty"`
	RecentActivations []models.Activation        `json:"recent_activations,omitempty"`
}

// Status handles GET /admin/status.
func (h *AdminHandlers) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.Snapshot()
	resp := statusResponse{
		State:            session.State(),
		Session:          session,
		RemainingSeconds: int64(session.Remaining(h.now()) / time.Second),
	}

	if on, err := h.device.IsOn(r.Context()); err != nil {
		resp.PhysicalError = err.Error()
	} else {
		resp.PhysicalOn = &on
	}
	if last, ok := h.sessions.LastReconcile(); ok {
		resp.LastReconcile = &last
	}
	if h.ledger != nil {
		activations, err := h.ledger.ListRecent(r.Context(), 20)
		if err != nil {
			h.logger.Warn("failed to list activations", zap.Error(err))
		} else {
			resp.RecentActivations = activations
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reconcile handles POST /admin/reconcile.
func (h *AdminHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Reconcile(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
