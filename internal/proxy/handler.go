package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-meter/internal/chat"
	"github.com/vnmchuo/llm-meter/internal/ledger"
	"github.com/vnmchuo/llm-meter/internal/tier"
)

type Handler struct {
	chat   *chat.Service
	logger *zap.Logger
}

func NewHandler(chatService *chat.Service, logger *zap.Logger) *Handler {
	return &Handler{
		chat:   chatService,
		logger: logger,
	}
}

// Routes mounts the metering API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Get("/models", h.HandleModels)
	r.Get("/pricing", h.HandlePricing)
	r.Get("/user/{id}/stats", h.HandleStats)
	r.Post("/user/{id}/upgrade", h.HandleUpgrade)
}

// chatRequest accepts the snake_case spellings as aliases. Any other key is
// rejected so a misspelled user id is never billed to the default user.
type chatRequest struct {
	chat.Request
	UserIDAlias    string `json:"user_id,omitempty"`
	MaxTokensAlias *int   `json:"max_tokens,omitempty"`
}

func decodeChatRequest(r *http.Request) (*chat.Request, error) {
	var body chatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}

	req := body.Request
	if req.UserID == "" {
		req.UserID = body.UserIDAlias
	}
	if req.MaxTokens == nil {
		req.MaxTokens = body.MaxTokensAlias
	}
	return &req, nil
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chat.Chat(r.Context(), req)
	if err != nil {
		var quotaErr *chat.QuotaExceededError
		var upstreamErr *chat.UpstreamError
		switch {
		case errors.Is(err, chat.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &quotaErr):
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":        "monthly usage limit exceeded",
				"tier":         quotaErr.Status.Tier,
				"quota_status": quotaErr.Status,
			})
		case errors.As(err, &upstreamErr):
			writeError(w, http.StatusInternalServerError, upstreamErr.Err.Error())
		default:
			h.logger.Error("chat endpoint error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.chat.Models(r.Context())
	if err != nil {
		h.logger.Warn("models endpoint error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (h *Handler) HandlePricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tiers": h.chat.Pricing()})
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.chat.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("stats endpoint error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tier == "" {
		writeError(w, http.StatusBadRequest, "tier is required")
		return
	}

	def, err := h.chat.Upgrade(r.Context(), chi.URLParam(r, "id"), body.Tier)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, tier.ErrUnknownTier):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("upgrade endpoint error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Upgraded to %s tier", def.ID),
		"tier":    def.ID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
