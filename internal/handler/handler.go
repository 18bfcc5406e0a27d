package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"valentine-link-api/internal/models"
	"valentine-link-api/internal/service"
	"valentine-link-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64

	// now feeds the payment engine's recency rules. Never derived from
	// request input; tests pin it.
	now func() time.Time
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB; submissions are short text
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		now:         time.Now,
	}
}

// Routes mounts all valentine endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/valentines", func(r chi.Router) {
		r.Post("/", h.CreateValentine)
		r.Get("/wall", h.Wall)
		r.Get("/stats", h.Stats)
		r.Get("/manage/{token}", h.Manage)
		r.Get("/{slug}", h.GetValentine)
		r.Post("/{slug}/unlock", h.Unlock)
		r.Post("/{slug}/respond", h.Respond)
		r.Post("/{slug}/submit_manual_payment", h.SubmitManualPayment)
		r.Post("/{slug}/reveal_manual_payment", h.RevealManualPayment)
	})
}

// CreateValentine handles POST /api/valentines
func (h *Handler) CreateValentine(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.CreateValentineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	req.RecipientName = validation.SanitizeString(req.RecipientName)
	req.SenderName = validation.SanitizeString(req.SenderName)
	req.SenderLocation = validation.SanitizeString(req.SenderLocation)
	req.Title = validation.SanitizeString(req.Title)
	req.MusicLink = validation.SanitizeString(req.MusicLink)
	req.ImageURL = validation.SanitizeString(req.ImageURL)
	req.ProtectionQuestion = validation.SanitizeString(req.ProtectionQuestion)
	req.ProtectionAnswer = validation.SanitizeString(req.ProtectionAnswer)

	resp, err := h.service.CreateValentine(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, resp)
}

// GetValentine handles GET /api/valentines/{slug}
func (h *Handler) GetValentine(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	token := validation.SanitizeString(r.URL.Query().Get("token"))

	view, err := h.service.GetValentine(r.Context(), slug, token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, view)
}

// Unlock handles POST /api/valentines/{slug}/unlock
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	view, err := h.service.Unlock(r.Context(), chi.URLParam(r, "slug"), req.Answer)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, view)
}

// Respond handles POST /api/valentines/{slug}/respond
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	v, err := h.service.Respond(r.Context(), chi.URLParam(r, "slug"), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	message := "Response recorded"
	if v.IsAccepted {
		message = fmt.Sprintf("%s said YES!", v.RecipientName)
	}

	h.respondJSON(w, http.StatusOK, models.RespondResponse{
		Success:    true,
		Message:    message,
		IsAccepted: v.IsAccepted,
	})
}

// SubmitManualPayment handles POST /api/valentines/{slug}/submit_manual_payment
func (h *Handler) SubmitManualPayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	slug := chi.URLParam(r, "slug")
	verdict, err := h.service.SubmitManualPayment(r.Context(), slug, req.Code, h.now())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if !verdict.Accepted {
		h.respondJSON(w, http.StatusBadRequest, models.SubmitPaymentResponse{
			Success: false,
			Message: verdict.Message,
			Slug:    slug,
		})
		return
	}

	h.respondJSON(w, http.StatusOK, models.SubmitPaymentResponse{
		Success: true,
		Message: "Payment confirmed! Your valentine is now live.",
		IsPaid:  true,
		Slug:    slug,
	})
}

// RevealManualPayment handles POST /api/valentines/{slug}/reveal_manual_payment
func (h *Handler) RevealManualPayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.RevealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	answer, err := h.service.RevealSecretAnswer(r.Context(), chi.URLParam(r, "slug"), req.Code)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if answer == "" {
		answer = "No secret set!"
	}

	h.respondJSON(w, http.StatusOK, models.RevealResponse{
		Success: true,
		Message: "Code received! Here is your secret answer:",
		Answer:  answer,
	})
}

// Wall handles GET /api/valentines/wall
func (h *Handler) Wall(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	entries, err := h.service.Wall(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.WallResponse{
		Count: len(entries),
		Data:  entries,
	})
}

// Stats handles GET /api/valentines/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// Manage handles GET /api/valentines/manage/{token}
func (h *Handler) Manage(w http.ResponseWriter, r *http.Request) {
	token := validation.SanitizeString(chi.URLParam(r, "token"))
	if token == "" {
		h.respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	v, err := h.service.Manage(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, v)
}

// respondServiceError maps service errors to HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var validationErr *validation.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPaymentRequired):
		h.respondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, service.ErrWrongAnswer):
		h.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrFeatureDisabled):
		h.respondError(w, http.StatusNotFound, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
