package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/legacy-adapter/pkg/adapter"
	"github.com/Sternrassler/legacy-adapter/pkg/breaker"
	"github.com/Sternrassler/legacy-adapter/pkg/client"
	"github.com/Sternrassler/legacy-adapter/pkg/metrics"
	"github.com/Sternrassler/legacy-adapter/pkg/transform"
)

// resource is the caller surface of one adapter.
type resource[M any] interface {
	Fetch(ctx context.Context, key string, ttl time.Duration) (M, error)
	FetchAll(ctx context.Context, filter url.Values, ttl time.Duration) ([]M, error)
	Breaker() *breaker.Breaker
}

func newRouter(svc *services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))

	r.Get("/health", healthHandler(svc))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/customers/{id}", itemHandler[transform.Customer](svc.customers, svc.customerTTL))
	r.Get("/customers", listHandler[transform.Customer](svc.customers, svc.listTTL))
	r.Get("/payments/{id}", itemHandler[transform.Payment](svc.payments, svc.paymentTTL))
	r.Get("/payments", listHandler[transform.Payment](svc.payments, svc.listTTL))

	return r
}

type healthResponse struct {
	Status   string             `json:"status"`
	Adapters []adapter.Stats    `json:"adapters"`
	Breakers []breaker.Snapshot `json:"breakers"`
}

// healthHandler reports "degraded" while any breaker is not closed. The
// proxy itself is up, so the status code stays 200.
func healthHandler(svc *services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "ok",
			Adapters: []adapter.Stats{svc.customers.Stats(), svc.payments.Stats()},
			Breakers: svc.breakers.Snapshots(),
		}
		for _, snap := range resp.Breakers {
			if snap.State != breaker.StateClosed {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func itemHandler[M any](res resource[M], ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := res.Fetch(r.Context(), chi.URLParam(r, "id"), ttl)
		if err != nil {
			writeError(w, r, res.Breaker(), err)
			return
		}
		writeJSON(w, http.StatusOK, value)
	}
}

func listHandler[M any](res resource[M], ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query()
		filter.Del("page")

		values, err := res.FetchAll(r.Context(), filter, ttl)
		if err != nil {
			writeError(w, r, res.Breaker(), err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// statusFor maps an adapter error to the HTTP status returned to callers.
func statusFor(err error) int {
	var (
		openErr  *breaker.OpenError
		upErr    *client.UpstreamError
		transErr *transform.Error
	)
	switch {
	case errors.As(err, &openErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &upErr):
		if upErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		if upErr.Temporary() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.As(err, &transErr):
		return http.StatusBadGateway
	case errors.Is(err, adapter.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, adapter.ErrListUnsupported):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// retryAfter returns the Retry-After seconds for a 503, taken from the
// breaker when it is refusing calls. A breaker that is not open yet falls
// back to its reset timeout.
func retryAfter(err error, cb *breaker.Breaker) int {
	var openErr *breaker.OpenError
	d := time.Duration(0)
	if errors.As(err, &openErr) {
		d = openErr.RetryAfter
	} else if cb != nil {
		if d = cb.Snapshot().RetryAfter; d <= 0 {
			d = cb.ResetTimeout()
		}
	}
	return max(1, int(math.Ceil(d.Seconds())))
}

func writeError(w http.ResponseWriter, r *http.Request, cb *breaker.Breaker, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter(err, cb)))
	}
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Warn().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Status: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
