package httpadapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/pricewatch/internal/config"
	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
	"github.com/kirillkom/pricewatch/internal/observability/metrics"
)

const (
	serviceName         = "api"
	backpressureWait    = 250 * time.Millisecond
	defaultUntaggedPage = 100
)

type Router struct {
	cfg         config.Config
	reports     ports.ReportService
	collections ports.CollectionReader
	exporter    ports.ReportExporter
	metrics     *metrics.HTTPServerMetrics
	logger      *slog.Logger
}

func NewRouter(
	cfg config.Config,
	reports ports.ReportService,
	collections ports.CollectionReader,
	exporter ports.ReportExporter,
) *Router {
	return &Router{
		cfg:         cfg,
		reports:     reports,
		collections: collections,
		exporter:    exporter,
		logger:      slog.Default().With("component", "http"),
	}
}

func (rt *Router) WithLogger(logger *slog.Logger) *Router {
	if logger != nil {
		rt.logger = logger.With("component", "http")
	}
	return rt
}

// WithMetrics enables request metrics and the /metrics endpoint.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/reports/by-tag", rt.reportByTag)
	api.HandleFunc("GET /v1/reports/by-brand", rt.reportByBrand)
	api.HandleFunc("GET /v1/reports/brand-competition", rt.reportBrandCompetition)
	api.HandleFunc("GET /v1/tagging/reviews", rt.listReviews)
	api.HandleFunc("GET /v1/articles/untagged", rt.listUntagged)
	api.HandleFunc("GET /v1/collections", rt.listCollections)

	var limited http.Handler = api
	limited = backpressureMiddleware(limited, rt.cfg.APIMaxInFlight, backpressureWait)
	limited = rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	root.Handle("/v1/", rt.countRejections(limited))
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) reportByTag(w http.ResponseWriter, r *http.Request) {
	report, err := rt.reports.ByTag(r.Context())
	rt.respondReport(w, r, "by-tag", "tag", report, err)
}

func (rt *Router) reportByBrand(w http.ResponseWriter, r *http.Request) {
	report, err := rt.reports.ByBrand(r.Context())
	rt.respondReport(w, r, "by-brand", "brand", report, err)
}

func (rt *Router) reportBrandCompetition(w http.ResponseWriter, r *http.Request) {
	brand := strings.TrimSpace(r.URL.Query().Get("brand"))
	if brand == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter 'brand' is required"})
		return
	}
	annotate(r, "brand", brand)
	report, err := rt.reports.BrandCompetition(r.Context(), brand)
	rt.respondReport(w, r, "brand-competition", "tag", report, err)
}

func (rt *Router) respondReport(w http.ResponseWriter, r *http.Request, kind, groupHeader string, report domain.Report, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	if report == nil {
		report = domain.Report{}
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	annotate(r, "report_kind", kind, "report_format", format, "report_groups", len(report))
	switch format {
	case "", "json":
		rt.recordReport(kind, "json", len(report))
		writeJSON(w, http.StatusOK, report)
	case "xlsx":
		if rt.exporter == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "xlsx export is not configured"})
			return
		}
		var buf bytes.Buffer
		if err := rt.exporter.WriteReport(&buf, kind, groupHeader, report); err != nil {
			writeError(w, r, err)
			return
		}
		rt.recordReport(kind, format, len(report))
		w.Header().Set("Content-Type", rt.exporter.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s%s"`, kind, rt.exporter.Extension()))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unsupported format %q", format)})
	}
}

func (rt *Router) recordReport(kind, format string, groups int) {
	if rt.metrics != nil {
		rt.metrics.RecordReport(serviceName, kind, format, groups)
	}
}

func (rt *Router) listReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := rt.reports.Reviews(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r, "reviews", len(reviews))
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews, "count": len(reviews)})
}

func (rt *Router) listUntagged(w http.ResponseWriter, r *http.Request) {
	limit := defaultUntaggedPage
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	articles, err := rt.reports.Untagged(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r, "untagged_limit", limit, "untagged", len(articles))
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles, "count": len(articles)})
}

func (rt *Router) listCollections(w http.ResponseWriter, r *http.Request) {
	if rt.collections == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "staging area is not configured"})
		return
	}
	collections, err := rt.collections.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if collections == nil {
		collections = []domain.Collection{}
	}
	pending := 0
	for _, c := range collections {
		if c.Eligible() {
			pending++
		}
	}
	annotate(r, "collections", len(collections), "collections_pending", pending)
	writeJSON(w, http.StatusOK, map[string]any{"collections": collections, "count": len(collections)})
}

func (rt *Router) countRejections(next http.Handler) http.Handler {
	if rt.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)
		switch recorder.statusCode {
		case http.StatusTooManyRequests:
			rt.metrics.RecordRejected(serviceName, "rate_limit")
		case http.StatusServiceUnavailable:
			if recorder.Header().Get(overloadHeader) != "" {
				rt.metrics.RecordRejected(serviceName, "backpressure")
			}
		}
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
