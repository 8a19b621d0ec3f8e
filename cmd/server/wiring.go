package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"parley/internal/admin"
	"parley/internal/admission"
	admmetrics "parley/internal/admission/metrics"
	jwttoken "parley/internal/jwt_token"
	msghandler "parley/internal/messaging/handler"
	msgmetrics "parley/internal/messaging/metrics"
	"parley/internal/messaging/ports"
	"parley/internal/messaging/publisher"
	msgservice "parley/internal/messaging/service"
	msgstore "parley/internal/messaging/store"
	"parley/internal/platform/config"
	"parley/internal/platform/logger"
	"parley/internal/platform/metrics"
	"parley/internal/platform/postgres"
	platformredis "parley/internal/platform/redis"
	rlmetrics "parley/internal/ratelimit/metrics"
	"parley/internal/ratelimit/service/requestlimit"
	"parley/internal/ratelimit/store/bucket"
	"parley/pkg/platform/audit"
	auditmemory "parley/pkg/platform/audit/store/memory"
	"parley/pkg/platform/httputil"
	authmw "parley/pkg/platform/middleware/auth"
	"parley/pkg/platform/middleware/metadata"
	"parley/pkg/platform/middleware/request"
	"parley/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

type app struct {
	router  http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build constructs every component. Optional backends (Redis, Postgres,
// Kafka) fall back to in-process implementations when unconfigured.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := metrics.NewRegistry()
	var health []healthCheck

	proxies, err := cfg.Server.Proxies()
	if err != nil {
		return nil, err
	}

	requestLog, requestLogCloser, err := logger.OpenRequestLog(cfg.Log.RequestLogPath)
	if err != nil {
		return nil, fmt.Errorf("open request log: %w", err)
	}
	a.closers = append(a.closers, func() { _ = requestLogCloser.Close() })

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	var buckets requestlimit.BucketStore
	if redisClient != nil {
		log.Info("rate limiter using redis")
		buckets = bucket.NewRedisBucketStore(redisClient.Client)
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		health = append(health, healthCheck{name: "redis", check: redisClient.Health})
	} else {
		log.Warn("redis not configured, rate limiter is process-local")
		buckets = bucket.NewInMemoryBucketStore()
	}

	limiter, err := requestlimit.New(buckets,
		requestlimit.WithLogger(log),
		requestlimit.WithMetrics(rlmetrics.New(reg)),
		requestlimit.WithLimit(cfg.Admission.RateLimit, cfg.Admission.RatePeriod),
	)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	auditLog := audit.NewPublisher(auditmemory.NewInMemoryStore(), audit.WithPublisherLogger(log))

	pipeline, err := buildPipeline(cfg.Admission, limiter, requestLog, auditLog, admmetrics.New(reg), log)
	if err != nil {
		return nil, err
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	var (
		store ports.Store
		tx    ports.StoreTx
	)
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		health = append(health, healthCheck{name: "postgres", check: db.PingContext})
		if err := msgstore.Migrate(ctx, db); err != nil {
			return nil, err
		}
		pg := msgstore.NewPostgres(db, msgstore.WithTxTimeout(cfg.Postgres.TxTimeout))
		store, tx = pg, pg
		log.Info("message store using postgres")
	} else {
		mem := msgstore.NewInMemoryStore()
		store, tx = mem, mem
		log.Warn("postgres not configured, message store is in-memory")
	}

	svcOpts := []msgservice.Option{
		msgservice.WithLogger(log),
		msgservice.WithMetrics(msgmetrics.New(reg)),
		msgservice.WithAuditPublisher(auditLog),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := publisher.NewKafka(cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		health = append(health, healthCheck{name: "kafka", check: pub.Ping})
		if err := pub.EnsureTopic(ctx); err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, msgservice.WithPublisher(pub))
		log.Info("notification publisher using kafka", "topic", cfg.Kafka.Topic)
	}
	svc := msgservice.New(store, tx, svcOpts...)

	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.TrustedProxies(proxies))
	r.Use(requesttime.Middleware)
	r.Use(authmw.Authenticate(validator, log, authmw.DeferRejection()))
	r.Use(pipeline.Middleware)

	r.Get("/healthz", healthHandler(health))
	r.Handle("/metrics", metrics.Handler(reg))

	msghandler.New(svc, log).Register(r)
	admin.New(auditLog, limiter, cfg.Admission.RateLimitPath, log).Register(r)

	a.router = r
	return a, nil
}

func buildPipeline(
	cfg config.Admission,
	limiter admission.Limiter,
	requestLog *slog.Logger,
	auditLog *audit.Publisher,
	m *admmetrics.Metrics,
	log *slog.Logger,
) (*admission.Pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	roles, err := cfg.Roles()
	if err != nil {
		return nil, err
	}

	window, err := admission.NewAccessWindowGate(cfg.WindowPath, cfg.WindowStartHour, cfg.WindowEndHour, loc)
	if err != nil {
		return nil, fmt.Errorf("access window: %w", err)
	}
	rateLimit, err := admission.NewRateLimitGate(limiter, cfg.RateLimitPath, cfg.RateLimitMethods)
	if err != nil {
		return nil, fmt.Errorf("rate limit gate: %w", err)
	}
	role, err := admission.NewRoleGate(cfg.RolePath, cfg.CriticalMethod, roles)
	if err != nil {
		return nil, fmt.Errorf("role gate: %w", err)
	}

	return admission.NewPipeline(admission.Stages{
		Logger:      admission.NewRequestLogger(requestLog, admission.WithAppLogger(log)),
		Credentials: admission.NewCredentialGate(),
		Window:      window,
		RateLimit:   rateLimit,
		Role:        role,
	},
		admission.WithLogger(log),
		admission.WithMetrics(m),
		admission.WithAuditPublisher(auditLog),
	), nil
}

type healthResponse struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends,omitempty"`
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

// healthHandler pings every configured backend; any failure reports 503.
func healthHandler(checks []healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Backends: map[string]string{}}
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				resp.Status = "degraded"
				resp.Backends[c.name] = err.Error()
				continue
			}
			resp.Backends[c.name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
