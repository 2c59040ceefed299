package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/pairbridge/pairing-server-go/internal/errors"
	"github.com/pairbridge/pairing-server-go/internal/model"
	"github.com/pairbridge/pairing-server-go/internal/service"
)

// PairingService is the orchestrator surface the handlers need.
type PairingService interface {
	Pair(ctx context.Context, phone string) (*service.CreatePairingResult, error)
	Status(id string) model.SessionStatus
	SessionString(id string) (string, error)
}

type PairingHandler struct {
	pairingService PairingService
}

func NewPairingHandler(pairingService PairingService) *PairingHandler {
	return &PairingHandler{
		pairingService: pairingService,
	}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/pair", h.Pair)
	r.Get("/status/{sessionID}", h.Status)
	r.Get("/session/{sessionID}", h.Session)

	return r
}

type pairRequest struct {
	Phone string `json:"phone"`
}

// POST /api/pair
func (h *PairingHandler) Pair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Request body must be JSON"))
		return
	}
	if req.Phone == "" {
		writeError(w, apperrors.MissingRequired("phone"))
		return
	}

	result, err := h.pairingService.Pair(r.Context(), req.Phone)
	if err != nil {
		log.Error().Err(err).Msg("pairing request failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.PairResult{
		Success:   true,
		Code:      result.Code,
		SessionID: result.SessionID,
		Message:   "Pairing code generated. Enter it on your phone.",
	})
}

// GET /api/status/{sessionID}
func (h *PairingHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	writeJSON(w, http.StatusOK, model.StatusResult{
		Status: h.pairingService.Status(sessionID),
	})
}

// GET /api/session/{sessionID}
func (h *PairingHandler) Session(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sessionString, err := h.pairingService.SessionString(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.SessionStringResult{
		Success:       true,
		SessionID:     sessionID,
		SessionString: sessionString,
	})
}
