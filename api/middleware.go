package api

import (
	"net/http"
	"strconv"
	"time"

	"ara/authz"
	"ara/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxRequestIDLength bounds client supplied request IDs echoed in logs and headers
const maxRequestIDLength = 64

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestIDMiddleware tags every request with an ID, reusing the client's X-Request-ID when sane
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := WithRequestID(r.Context(), id)
		ctx = WithTraceStart(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request counts and latencies by route template and logs the request
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, ok := GetTraceStart(r.Context())
		if !ok {
			start = time.Now()
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		duration := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		requestID, _ := GetRequestID(r.Context())
		a.logger.Debugw("HTTP request",
			"request_id", requestID,
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

// routeTemplate returns the matched route template, keeping metric label cardinality bounded
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// corsMiddleware adds CORS headers
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// projectCheck decides whether a principal may use the project identified by code
type projectCheck func(p authz.Principal, code string) bool

// readProject wraps handlers that only read project data. Auditors pass.
func (a *API) readProject(h http.HandlerFunc) http.Handler {
	return a.projectAccess(authz.Principal.CanRead, h)
}

// writeProject wraps handlers that modify project data: MAINTAINER and above
func (a *API) writeProject(h http.HandlerFunc) http.Handler {
	return a.projectAccess(authz.Principal.CanWrite, h)
}

// adminProject wraps handlers that change the project itself or its reference data
func (a *API) adminProject(h http.HandlerFunc) http.Handler {
	return a.projectAccess(authz.Principal.CanAdminister, h)
}

// projectAccess resolves the {code} route variable and checks the caller's authorities
// before the handler runs. The resolved project is stored in the request context.
//
// An unknown project and a project the caller cannot read both answer 404, so the
// existence of projects is not disclosed to users scoped elsewhere.
func (a *API) projectAccess(allowed projectCheck, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := authz.PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authorization required", nil, a.logger)
			return
		}

		code := mux.Vars(r)["code"]
		if !principal.CanRead(code) {
			writeError(w, http.StatusNotFound, "Project not found", nil, a.logger)
			return
		}
		if !allowed(*principal, code) {
			a.logger.Infow("Project access denied", "action", r.Method+" "+routeTemplate(r), "outcome", "denied",
				"username", principal.Login, "project", code)
			writeError(w, http.StatusForbidden, "Insufficient privileges on project "+code, nil, a.logger)
			return
		}

		project, err := a.services.Projects.FindByCode(r.Context(), code)
		if err != nil {
			a.writeAppError(w, err)
			return
		}

		h.ServeHTTP(w, r.WithContext(WithProject(r.Context(), project)))
	})
}
