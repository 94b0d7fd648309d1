// Package rest exposes the gates to the messaging client over a local
// HTTP API. The pipelines call it before transmitting a message or
// materializing an attachment, and after a successful send.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/fingerprint"
	"github.com/avasconcelos114/hashgate/internal/gate"
	"github.com/avasconcelos114/hashgate/internal/logctx"
)

// GateHandler serves the local gate API.
type GateHandler struct {
	username string
	password string
	send     *gate.SendGate
	download *gate.DownloadGate
	blocks   blocklist.BlockRepository
	retries  blocklist.RetryRepository
}

// NewGateHandler creates a new gate API handler. Empty credentials
// disable basic auth.
func NewGateHandler(
	username, password string,
	send *gate.SendGate,
	download *gate.DownloadGate,
	blocks blocklist.BlockRepository,
	retries blocklist.RetryRepository,
) *GateHandler {
	return &GateHandler{
		username: username,
		password: password,
		send:     send,
		download: download,
		blocks:   blocks,
		retries:  retries,
	}
}

// Routes mounts the gate API.
func (h *GateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.basicAuth)

	r.Post("/v1/gate/send", h.checkSend)
	r.Post("/v1/gate/sent", h.recordSent)
	r.Post("/v1/gate/download", h.checkDownload)

	r.Get("/v1/blocklist", h.listBlocks)
	r.Put("/v1/blocklist", h.addBlock)
	r.Delete("/v1/blocklist/{fingerprint}", h.removeBlock)

	r.Get("/v1/retry/blocked", h.listPermanentlyBlocked)

	return r
}

func (h *GateHandler) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" && h.password == "" {
			next.ServeHTTP(w, r)

			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != h.username || pass != h.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="hashgate"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

type checkRequest struct {
	Fingerprint   string `json:"fingerprint"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
}

// decisionResponse is what the pipelines act on. Message is user
// presentable and never carries the fingerprint.
type decisionResponse struct {
	Allow   bool   `json:"allow"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *GateHandler) checkSend(w http.ResponseWriter, r *http.Request) {
	d, ok := h.readFingerprint(w, r, nil)
	if !ok {
		return
	}

	decision := h.send.Check(r.Context(), d)

	writeJSON(w, http.StatusOK, toResponse(decision, "sent"))
}

func (h *GateHandler) recordSent(w http.ResponseWriter, r *http.Request) {
	d, ok := h.readFingerprint(w, r, nil)
	if !ok {
		return
	}

	h.send.RecordSent(r.Context(), d)

	w.WriteHeader(http.StatusAccepted)
}

func (h *GateHandler) checkDownload(w http.ResponseWriter, r *http.Request) {
	var req checkRequest

	d, ok := h.readFingerprint(w, r, &req)
	if !ok {
		return
	}

	decision := h.download.Check(r.Context(), d, req.AttachmentRef)

	writeJSON(w, http.StatusOK, toResponse(decision, "downloaded"))
}

type blockRequest struct {
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason"`
}

type blockResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Reason      string    `json:"reason"`
	BlockedAt   time.Time `json:"blocked_at"`
}

func (h *GateHandler) listBlocks(w http.ResponseWriter, r *http.Request) {
	records, err := h.blocks.List()
	if err != nil {
		h.serverError(w, r, "failed to list local blocks", err)

		return
	}

	resp := make([]blockResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, blockResponse{
			Fingerprint: rec.Fingerprint.String(),
			Reason:      rec.Reason,
			BlockedAt:   rec.BlockedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *GateHandler) addBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	d, err := fingerprint.Parse(req.Fingerprint)
	if err != nil {
		http.Error(w, "invalid fingerprint", http.StatusBadRequest)

		return
	}

	err = h.blocks.Put(blocklist.BlockRecord{
		Fingerprint: d,
		Reason:      req.Reason,
		BlockedAt:   time.Now(),
	})
	if err != nil {
		h.serverError(w, r, "failed to store local block", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *GateHandler) removeBlock(w http.ResponseWriter, r *http.Request) {
	d, err := fingerprint.Parse(chi.URLParam(r, "fingerprint"))
	if err != nil {
		http.Error(w, "invalid fingerprint", http.StatusBadRequest)

		return
	}

	if err := h.blocks.Delete(d); err != nil {
		h.serverError(w, r, "failed to delete local block", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type retryItemResponse struct {
	Fingerprint   string    `json:"fingerprint"`
	AttachmentRef string    `json:"attachment_ref"`
	AttemptCount  int       `json:"attempt_count"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// listPermanentlyBlocked surfaces items that exhausted their re-check
// budget for manual review.
func (h *GateHandler) listPermanentlyBlocked(w http.ResponseWriter, r *http.Request) {
	items, err := h.retries.ListPermanentlyBlocked()
	if err != nil {
		h.serverError(w, r, "failed to list permanently blocked items", err)

		return
	}

	resp := make([]retryItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, retryItemResponse{
			Fingerprint:   item.Fingerprint.String(),
			AttachmentRef: item.AttachmentRef,
			AttemptCount:  item.AttemptCount,
			LastCheckedAt: item.LastCheckedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// readFingerprint decodes the request body (into req when provided) and
// validates the fingerprint field.
func (h *GateHandler) readFingerprint(w http.ResponseWriter, r *http.Request, req *checkRequest) (fingerprint.Digest, bool) {
	if req == nil {
		req = &checkRequest{}
	}

	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return "", false
	}

	d, err := fingerprint.Parse(req.Fingerprint)
	if err != nil {
		http.Error(w, "invalid fingerprint", http.StatusBadRequest)

		return "", false
	}

	return d, true
}

func (h *GateHandler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), msg, "err", err)

	if errors.Is(err, blocklist.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)

		return
	}

	http.Error(w, "internal error", http.StatusInternalServerError)
}

func toResponse(d gate.Decision, action string) decisionResponse {
	resp := decisionResponse{Allow: d.Allow, Reason: string(d.Reason)}

	if err := d.Err(action); err != nil {
		resp.Message = err.Error()
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
