// Package api exposes the engine over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/turnstile/internal/config"
	"github.com/gyaneshwarpardhi/turnstile/internal/engine"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/registrar"
)

const maxBulkSize = 1000

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	mux    *chi.Mux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// which disables the reload route.
func New(eng *engine.Engine, loader *config.Loader) http.Handler {
	h := &Handler{eng: eng, loader: loader, mux: chi.NewRouter()}
	h.mux.Use(middleware.RequestID, middleware.Recoverer, loggingMiddleware)

	h.mux.Route("/v1", func(r chi.Router) {
		r.Post("/scans", h.scan)

		r.Post("/events/{eventID}/checkout", h.checkout)
		r.Post("/events/{eventID}/registrations", h.register)
		r.Post("/events/{eventID}/registrations/bulk", h.registerBulk)
		r.Put("/events/{eventID}/capacity", h.updateCapacity)
		r.Post("/events/{eventID}/waitlist/promote", h.promoteWaitlist)
		r.Get("/events/{eventID}/reconcile", h.reconcile)

		r.Post("/registrations/{registrationID}/order", h.createOrder)
		r.Post("/registrations/{registrationID}/payment", h.confirmPayment)
		r.Post("/registrations/{registrationID}/cancel", h.cancel)

		r.Get("/participants/{participantID}/token", h.currentToken)
		r.Post("/participants/{participantID}/badge", h.issueBadge)
		r.Delete("/participants/{participantID}/badge", h.revokeBadge)
		r.Get("/participants/{participantID}/scans", h.history)

		r.Put("/staff/{staffID}/assignments/{eventID}", h.assign)
		r.Delete("/staff/{staffID}/assignments/{eventID}", h.unassign)

		r.Get("/leaderboard", h.leaderboard)
		if loader != nil {
			r.Post("/config/reload", h.reloadConfig)
		}
	})
	h.mux.Get("/healthz", h.healthz)
	h.mux.Get("/readyz", h.readyz)
	h.mux.Handle("/metrics", promhttp.Handler())

	return h.mux
}

// POST /v1/scans — verify a token and toggle presence.
func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var req engine.ScanRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.eng.Scan(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerRequest struct {
	ParticipantID string                  `json:"participant_id"`
	PaymentProof  *registrar.PaymentProof `json:"payment_proof,omitempty"`
}

// POST /v1/events/{eventID}/registrations — admit one participant.
func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	adm, err := h.eng.Register(r.Context(), registrar.Request{
		ParticipantID: in.ParticipantID,
		EventID:       chi.URLParam(r, "eventID"),
		PaymentProof:  in.PaymentProof,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"registration_id": adm.Registration.ID,
		"status":          adm.Registration.Status,
		"order_ref":       adm.OrderRef,
		"registration":    adm.Registration,
	})
}

type checkoutRequest struct {
	ParticipantID string `json:"participant_id"`
}

// POST /v1/events/{eventID}/checkout — open an order to pay before registering.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var in checkoutRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.eng.OpenCheckout(r.Context(), in.ParticipantID, chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_ref": order.Ref,
		"amount":    order.Amount,
		"currency":  order.Currency,
	})
}

// POST /v1/events/{eventID}/registrations/bulk — administrative import.
func (h *Handler) registerBulk(w http.ResponseWriter, r *http.Request) {
	var in registrar.BulkRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if len(in.ParticipantIDs) > maxBulkSize {
		writeError(w, r, badRequest("batch size %d exceeds max %d", len(in.ParticipantIDs), maxBulkSize))
		return
	}
	in.EventID = chi.URLParam(r, "eventID")
	res, err := h.eng.RegisterBulk(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type capacityRequest struct {
	MaxCapacity *int `json:"max_capacity"`
}

// PUT /v1/events/{eventID}/capacity — change the ceiling (null = unlimited).
func (h *Handler) updateCapacity(w http.ResponseWriter, r *http.Request) {
	var in capacityRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.eng.UpdateCapacity(r.Context(), chi.URLParam(r, "eventID"), in.MaxCapacity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"max_capacity": in.MaxCapacity, "promoted_waitlist_count": n})
}

// POST /v1/events/{eventID}/waitlist/promote — fill free seats.
func (h *Handler) promoteWaitlist(w http.ResponseWriter, r *http.Request) {
	n, err := h.eng.PromoteWaitlist(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"promoted_waitlist_count": n})
}

// GET /v1/events/{eventID}/reconcile — counter consistency check.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.eng.Reconcile(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// POST /v1/registrations/{registrationID}/order — (re)open a gateway order.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	reg, err := h.eng.CreatePaymentOrder(r.Context(), chi.URLParam(r, "registrationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// POST /v1/registrations/{registrationID}/payment — gateway callback.
func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var proof registrar.PaymentProof
	if err := decode(r, &proof); err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := h.eng.ConfirmPayment(r.Context(), registrar.ConfirmRequest{
		RegistrationID: chi.URLParam(r, "registrationID"),
		PaymentProof:   proof,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type cancelRequest struct {
	ForceAmount *int64 `json:"force_amount,omitempty"`
	Reason      string `json:"reason"`
}

// POST /v1/registrations/{registrationID}/cancel — cancel and refund.
func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var in cancelRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.eng.Cancel(r.Context(), registrar.CancelRequest{
		RegistrationID: chi.URLParam(r, "registrationID"),
		ForceAmount:    in.ForceAmount,
		Reason:         in.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/participants/{participantID}/token — current rotating token.
func (h *Handler) currentToken(w http.ResponseWriter, r *http.Request) {
	tok, until, err := h.eng.CurrentToken(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "valid_until": until.UTC().Format(time.RFC3339)})
}

// POST /v1/participants/{participantID}/badge — issue a fallback badge.
func (h *Handler) issueBadge(w http.ResponseWriter, r *http.Request) {
	tok, badgeID, err := h.eng.IssueBadge(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"badge": tok, "badge_id": badgeID})
}

// DELETE /v1/participants/{participantID}/badge — revoke all badges.
func (h *Handler) revokeBadge(w http.ResponseWriter, r *http.Request) {
	n, err := h.eng.RevokeBadge(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

// GET /v1/participants/{participantID}/scans?limit=N — scan history.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := h.eng.History(r.Context(), chi.URLParam(r, "participantID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": recs})
}

// PUT /v1/staff/{staffID}/assignments/{eventID} — activate an assignment.
func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	a, err := h.eng.Assign(r.Context(), chi.URLParam(r, "staffID"), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DELETE /v1/staff/{staffID}/assignments/{eventID} — deactivate it.
func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Unassign(r.Context(), chi.URLParam(r, "staffID"), chi.URLParam(r, "eventID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/leaderboard?limit=N — participants by time on site.
func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.eng.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// POST /v1/config/reload — re-read the config file now.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":         true,
		"legacy_open_mode": cfg.Scan.OpenMode(),
		"admission_rules":  len(cfg.Admission.Rules),
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the store is unreachable or queues are >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if err := h.eng.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "store_unavailable",
			"error":  err.Error(),
		})
		return
	}
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return n, nil
}
