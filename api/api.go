package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flexiant/camanager/factory"
	"github.com/flexiant/camanager/registry"
	"github.com/flexiant/camanager/storage"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	registry *registry.Registry
	cas      *factory.CAFactory
	certs    *factory.CertificateFactory
	audit    *auditLogger
	metrics  *metricsCollector
	logger   *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

type options struct {
	logger        *slog.Logger
	webhookURL    string
	webhookHeader string
	alertFn       AlertFunc
	promRegistry  *prometheus.Registry
	auditRepo     storage.Repository
	auditMaxAge   time.Duration
	auditMaxCount int
	certs         *factory.CertificateFactory
}

// Option configures the API instance.
type Option func(*options)

// WithLogger sets the structured logger for request and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAuditWebhook forwards every audit event to url. authHeader has the
// form "Name: value" and may be empty.
func WithAuditWebhook(url, authHeader string) Option {
	return func(o *options) {
		o.webhookURL = url
		o.webhookHeader = authHeader
	}
}

// WithAlertFunc sets the callback for revocation and issuance failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(o *options) { o.alertFn = fn }
}

// WithMetricsRegistry registers the API's collectors on reg instead of a
// private registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.promRegistry = reg }
}

// WithAuditRepository persists audit events in repo. Zero maxAge or
// maxEntries disables that retention limit.
func WithAuditRepository(repo storage.Repository, maxAge time.Duration, maxEntries int) Option {
	return func(o *options) {
		o.auditRepo = repo
		o.auditMaxAge = maxAge
		o.auditMaxCount = maxEntries
	}
}

// WithCertificateFactory replaces the factory used for issuance and CA
// builds.
func WithCertificateFactory(cf *factory.CertificateFactory) Option {
	return func(o *options) { o.certs = cf }
}

// New creates a new API instance serving the CAs known to reg.
func New(reg *registry.Registry, opts ...Option) *API {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if o.certs == nil {
		o.certs = factory.NewCertificateFactory()
	}

	a := &API{
		registry: reg,
		certs:    o.certs,
		logger:   o.logger,
		metrics:  newMetricsCollector(o.promRegistry, o.alertFn),
		audit:    newAuditLogger(o.logger),
	}
	a.cas = factory.NewCAFactory(reg.Store(),
		factory.WithCertificateFactory(o.certs),
		factory.WithLogger(o.logger),
	)
	a.audit.metrics = a.metrics
	if o.auditRepo != nil {
		a.audit.store = &auditStore{repo: o.auditRepo, maxAge: o.auditMaxAge, maxEntries: o.auditMaxCount}
	}
	if o.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(o.webhookURL, o.webhookHeader, o.logger)
	}
	return a
}

// Close flushes pending audit webhook deliveries.
func (a *API) Close() {
	if a.audit != nil && a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/metrics", a.ServeMetrics)

	r.Route("/1", func(r chi.Router) {
		r.Use(SecurityHeaders)

		r.Get("/cas", a.ListCAs)
		r.Post("/cas", a.CreateCA)
		r.Post("/cas/renew", a.RenewCA)
		r.Post("/cas/revoke", a.RevokeCA)
		r.Post("/cas/unrevoke", a.UnrevokeCA)
		r.Get("/cas/{ca}/certificate", a.GetCACertificate)

		r.Post("/certificate/issue", a.IssueCertificate)
		r.Post("/certificate/revoke", a.RevokeCertificate)
		r.Post("/certificate/unrevoke", a.UnrevokeCertificate)

		r.Get("/crl/{ca}/generate", a.GenerateCRL)
		r.Post("/crl/generate", a.GenerateCRLForm)

		r.Post("/ocsp/{ca}", a.OCSP)

		r.Get("/audit", a.ListAuditEvents)
	})

	r.Get("/crls/{ca}.crl", a.DistributeCRL)

	return r
}

// ServeMetrics exposes the Prometheus counters.
func (a *API) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	if a.metrics == nil {
		http.NotFound(w, r)
		return
	}
	a.metrics.handler().ServeHTTP(w, r)
}
