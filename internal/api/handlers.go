package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgateway/gateway/internal/domain"
	"github.com/mcpgateway/gateway/internal/federation"
	"github.com/mcpgateway/gateway/internal/health"
	"github.com/mcpgateway/gateway/internal/proxy"
	"github.com/mcpgateway/gateway/internal/registry"
)

// Build information (set at compile time)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Handlers provides HTTP handlers for the API
type Handlers struct {
	registry  *registry.Store
	monitor   *health.Monitor
	federator *federation.Federator
	gateway   *proxy.Gateway
	logger    *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(reg *registry.Store, mon *health.Monitor, fed *federation.Federator, gw *proxy.Gateway, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry:  reg,
		monitor:   mon,
		federator: fed,
		gateway:   gw,
		logger:    logger,
	}
}

// Liveness always reports 200 so load balancers can see the process.
func (h *Handlers) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, domain.OK(map[string]string{
		"status":  "ok",
		"service": "mcp-gateway",
		"version": Version,
		"commit":  GitCommit,
	}))
}

// ListServers handles list/search/pagination over the registry snapshot.
func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := registry.SearchParams{
		Query: q.Get("q"),
	}
	if tags := q.Get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				params.Tags = append(params.Tags, t)
			}
		}
	}
	if v := q.Get("verified"); v != "" {
		verified := v == "true" || v == "1"
		params.Verified = &verified
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.Offset = n
		}
	}

	h.registry.CountRequest(r.Context())
	writeJSON(w, http.StatusOK, domain.OK(h.registry.Search(r.Context(), params)))
}

// GetServer returns one server record by id.
func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	srv, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server not found: "+id)
			return
		}
		h.logger.Error("failed to load server", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.registry.CountRequest(r.Context())
	writeJSON(w, http.StatusOK, domain.OK(srv))
}

// GetServerSchema returns a capability stub derived from the record
// itself, not from the federator.
func (h *Handlers) GetServerSchema(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	srv, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "server not found: "+id)
			return
		}
		h.logger.Error("failed to load server", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stub := map[string]any{
		"serverId":     srv.ID,
		"name":         srv.Name,
		"version":      srv.Version,
		"namespace":    srv.SchemaNamespace(),
		"capabilities": srv.Capabilities,
		"schemaUrl":    srv.URL + "/.well-known/mcp.json",
	}
	writeJSON(w, http.StatusOK, domain.OK(stub))
}

// HealthSummary returns the cached sweep summary, or a live one when
// forced.
func (h *Handlers) HealthSummary(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	writeJSON(w, http.StatusOK, domain.OK(h.monitor.Summary(r.Context(), force)))
}

// FederatedSchema returns the merged schema, optionally recomputed.
func (h *Handlers) FederatedSchema(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"

	fed, err := h.federator.Federate(r.Context(), refresh)
	if err != nil {
		h.logger.Error("federation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "schema federation failed")
		return
	}
	writeJSON(w, http.StatusOK, domain.OK(fed))
}

// proxyEnvelopeAllowance is headroom for the request fields wrapped
// around the forwarded body.
const proxyEnvelopeAllowance = 64 << 10

// Proxy forwards a caller's request to one registered server and relays
// the upstream response verbatim.
func (h *Handlers) Proxy(w http.ResponseWriter, r *http.Request) {
	// Refuse oversized requests before buffering them; the envelope
	// allowance covers the JSON fields around the forwarded body.
	r.Body = http.MaxBytesReader(w, r.Body, h.gateway.MaxBody()+proxyEnvelopeAllowance)

	var req proxy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ServerID == "" || req.Path == "" || req.Method == "" {
		writeError(w, http.StatusBadRequest, "serverId, path and method are required")
		return
	}
	req.ClientKey = clientKey(r)

	resp, err := h.gateway.Forward(r.Context(), &req)
	if err != nil {
		h.writeProxyError(w, &req, err)
		return
	}

	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (h *Handlers) writeProxyError(w http.ResponseWriter, req *proxy.Request, err error) {
	var rle *domain.RateLimitError
	var uerr *domain.UpstreamError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "server not found: "+req.ServerID)
	case errors.Is(err, proxy.ErrServerOffline):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, proxy.ErrMethodNotAllowed),
		errors.Is(err, proxy.ErrOriginMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, proxy.ErrBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &rle):
		setRateLimitHeaders(w, rle.Limit, 0, rle.Reset)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.As(err, &uerr):
		writeError(w, http.StatusBadGateway, uerr.Error())
	default:
		h.logger.Error("proxy forward failed", "server_id", req.ServerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Submit validates a candidate record. Accepted submissions are queued for
// maintainer review; this surface only validates.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	var candidate domain.ServerRecord
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Verified is set by maintainers, never by submitters.
	candidate.Verified = false

	if fieldErrs := h.registry.Validate(&candidate); len(fieldErrs) > 0 {
		env := domain.Fail("validation failed")
		env.Data = domain.ValidationResult{Valid: false, Errors: fieldErrs}
		writeJSON(w, http.StatusBadRequest, env)
		return
	}

	writeJSON(w, http.StatusOK, domain.OK(domain.ValidationResult{
		Valid:  true,
		Status: "pending-review",
	}))
}

// Stats returns the registry's aggregate counters.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.OK(h.registry.Stats(r.Context())))
}

// NotFound renders the envelope for unmatched paths.
func (h *Handlers) NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

// MethodNotAllowed renders the envelope for unmatched methods.
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.Fail(msg))
}

// clientKey identifies the caller for rate limiting: the remote IP, which
// the RealIP middleware has already resolved from proxy headers. RealIP
// leaves a bare address with no port, so a failed host/port split means
// the address is already the key.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.Trim(r.RemoteAddr, "[]")
}
