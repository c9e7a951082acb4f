package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/septivank/water-meter-bridge/internal/push"
	"github.com/septivank/water-meter-bridge/internal/service"
	"github.com/septivank/water-meter-bridge/internal/validator"
	"go.uber.org/zap"
)

// Bridge is the application surface served over HTTP
type Bridge interface {
	Submit(ctx context.Context, userID, deviceID, rawValue int) (*service.IngestionResult, error)
	SaveToken(ctx context.Context, userID int, expoToken, fcmToken *string) error
	Notify(ctx context.Context, userID int, title, message string) (push.Result, error)
	CheckAbnormal(ctx context.Context) (*service.SweepResult, error)
}

// HealthCheck reports a dependency failure as an error
type HealthCheck func(ctx context.Context) error

// Options configures the router
type Options struct {
	Bridge       Bridge
	Validator    *validator.Validator
	Logger       *zap.Logger
	ForwardURL   string
	CORSOrigins  []string
	Timeout      time.Duration
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]HealthCheck
}

type handler struct {
	bridge     Bridge
	validator  *validator.Validator
	logger     *zap.Logger
	forwardURL string
	checks     map[string]HealthCheck
}

// NewRouter builds the HTTP handler of the bridge
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &handler{
		bridge:     opts.Bridge,
		validator:  opts.Validator,
		logger:     logger,
		forwardURL: opts.ForwardURL,
		checks:     opts.HealthChecks,
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: originsOrAny(opts.CORSOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(withRequestLogger(logger))
	r.Use(withMetrics)

	r.Get("/", h.root)
	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/bridge/send-reading", h.sendReading)
	r.Post("/save_token", h.saveToken)
	r.Post("/send_notification", h.sendNotification)
	r.Post("/check_consumption", h.checkConsumption)

	return r
}

func originsOrAny(in []string) []string {
	out := []string{}
	for _, o := range in {
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
