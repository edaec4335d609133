package http

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"chimera/internal/config"
	"chimera/internal/domain"
	"chimera/internal/infra/auditmem"
	"chimera/internal/infra/cachemem"
	"chimera/internal/infra/cacheredis"
	"chimera/internal/infra/crypto"
	"chimera/internal/infra/db"
	"chimera/internal/infra/keys/soft"
	"chimera/internal/infra/policyopa"
	"chimera/internal/infra/ratelimit"
	"chimera/internal/infra/runsmem"
	"chimera/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	registry     *usecase.CardRegistry
	engine       *usecase.HandshakeEngine
	gate         *usecase.TrustGate
	orchestrator *usecase.Orchestrator
	audit        usecase.AuditEventRepository
	runs         usecase.ScenarioRunRepository

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, r: r, adminAPIKey: cfg.AdminAPIKey}
	s.initDeps(store)
	s.routes()
	return s
}

type ServerDeps struct {
	Registry     *usecase.CardRegistry
	Engine       *usecase.HandshakeEngine
	Gate         *usecase.TrustGate
	Orchestrator *usecase.Orchestrator
	Audit        usecase.AuditEventRepository
	Runs         usecase.ScenarioRunRepository
	AdminAPIKey  string
	RateLimiter  domain.RateLimiter
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:                 cfg,
		r:                   r,
		registry:            deps.Registry,
		engine:              deps.Engine,
		gate:                deps.Gate,
		orchestrator:        deps.Orchestrator,
		audit:               deps.Audit,
		runs:                deps.Runs,
		adminAPIKey:         deps.AdminAPIKey,
		rateLimiter:         deps.RateLimiter,
		rateLimitRequests:   cfg.RateLimitRequests,
		rateLimitWindow:     cfg.RateLimitWindow(),
		rateLimitFailClosed: cfg.RateLimitFailClosed,
	}
	s.routes()
	return s
}

func (s *Server) initDeps(store *db.Store) {
	cs := crypto.NewService()
	mode := domain.ParsePolicyMode(s.cfg.PolicyMode)

	var auditRepo usecase.AuditEventRepository = auditmem.New()
	var runsRepo usecase.ScenarioRunRepository = runsmem.New()
	var persister usecase.CardPersister
	if store.Available() {
		auditRepo = db.NewAuditEventRepository(store.DB)
		runsRepo = db.NewScenarioRunRepository(store.DB)
		persister = db.NewCardRepository(store.DB)
	}
	s.audit = auditRepo
	s.runs = runsRepo

	emitter := usecase.NewAuditEmitter(auditRepo, nil)

	registry := usecase.NewCardRegistry(cs, nil).WithAudit(emitter)
	if persister != nil {
		registry = registry.WithPersister(persister)
	}
	s.registry = registry

	validator := usecase.NewChainValidator(cs, s.cfg.MaxChainDepth)
	s.engine = usecase.NewHandshakeEngine(registry, validator, cs, emitter, mode, s.cfg.SessionTimeout(), nil)

	var policy domain.ToolPolicy
	if s.cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath)
		if err != nil {
			log.Fatalf("load tool policy bundle: %v", err)
		}
		policy = engine
	} else {
		policy = policyopa.NewStaticPolicy(s.cfg.RestrictedTools, nil)
	}

	var cache usecase.DecisionCache
	if s.cfg.RedisAddr != "" {
		redisCache, err := cacheredis.New(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB)
		if err != nil {
			log.Fatalf("init redis decision cache: %v", err)
		}
		cache = redisCache
	} else {
		cache = cachemem.New()
	}

	s.gate = usecase.NewTrustGate(s.engine, cache, emitter, policy, cs, mode, s.cfg.DecisionCacheTTL(), nil)
	s.orchestrator = usecase.NewOrchestrator(registry, s.engine, s.gate, cs, soft.NewKeyring(), emitter, runsRepo, mode, nil)

	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
	if s.rateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil)
			if err != nil {
				log.Fatalf("init redis rate limiter: %v", err)
			}
			s.rateLimiter = limiter
		} else {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: s.cfg.RateLimitMaxKeys})
		}
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/cards", s.handlePutCard)
		v1.GET("/cards/:agent_id", s.handleGetCard)
		v1.POST("/cards/:agent_id/revoke", s.handleRevokeCard)
		v1.POST("/delegations", s.handlePutDelegation)
		v1.POST("/delegations/:record_id/revoke", s.handleRevokeDelegation)

		v1.POST("/handshake/initiate", s.handleInitiate)
		v1.POST("/handshake/:session_id/respond", s.handleRespond)
		v1.POST("/handshake/:session_id/close", s.handleCloseSession)
		v1.GET("/sessions/:session_id", s.handleGetSession)

		v1.POST("/authorize", s.rateLimit, s.handleAuthorize)

		v1.POST("/scenarios/run", s.handleRunScenario)
		v1.GET("/scenarios/:run_id", s.handleGetRun)

		v1.GET("/audit/sessions/:session_id", s.handleAuditBySession)
		v1.GET("/audit/runs/:run_id", s.handleAuditByRun)
		v1.GET("/audit/sessions/:session_id/verify", s.handleVerifyAuditChain)
	}
}

// Run starts the engine janitor and serves until the listener fails.
func (s *Server) Run() error {
	if s.engine != nil {
		s.engine.StartJanitor(context.Background(), s.cfg.JanitorInterval())
	}
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() *gin.Engine {
	return s.r
}
