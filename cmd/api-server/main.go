package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/configs"
	"github.com/trustguard/riskcore/internal/aggregator"
	"github.com/trustguard/riskcore/internal/analytics"
	"github.com/trustguard/riskcore/internal/auth"
	"github.com/trustguard/riskcore/internal/connectors"
	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/mlmodel"
	"github.com/trustguard/riskcore/internal/models"
	"github.com/trustguard/riskcore/internal/notifier"
	"github.com/trustguard/riskcore/internal/orchestrator"
	"github.com/trustguard/riskcore/internal/pipeline"
	"github.com/trustguard/riskcore/internal/policy"
	"github.com/trustguard/riskcore/internal/processors"
	"github.com/trustguard/riskcore/internal/queue"
	"github.com/trustguard/riskcore/internal/regional"
	"github.com/trustguard/riskcore/internal/repositories"
	"github.com/trustguard/riskcore/internal/rules"
	"github.com/trustguard/riskcore/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting TrustGuard RiskCore API Server")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	retryQueue, err := queue.NewAlertRetryQueue(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer retryQueue.Close()

	// Initialize repositories
	profileRepo := repositories.NewProfileRepository(db)
	assessmentRepo := repositories.NewAssessmentRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	operatorRepo := repositories.NewOperatorRepository(db)

	// Initialize auth
	jwtManager := auth.NewJWTManager(cfg.JWT)
	authService := services.NewAuthService(operatorRepo, jwtManager)

	// Regional analyzers and tenant registry
	regions := regional.NewRegistry()
	if cfg.Paths.RegionTables != "" {
		tables, err := regional.LoadTables(cfg.Paths.RegionTables)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Paths.RegionTables).Msg("Failed to load region tables")
		}
		regions = regional.NewRegistryFromTables(tables)
	}

	tenants, err := policy.NewRegistry(cfg.Paths.TenantRegistry, regions)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Paths.TenantRegistry).Msg("Failed to load tenant registry")
	}

	// Rule engine
	var ruleEngine *rules.Engine
	if cfg.Paths.RulesFile != "" {
		ruleSet, err := rules.LoadRules(cfg.Paths.RulesFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Paths.RulesFile).Msg("Failed to load rules")
		}
		ruleEngine = rules.NewEngine(ruleSet)
	}

	// Context store backed by Postgres profiles
	store := contextstore.New(contextstore.Config{
		MemoryWindow:  cfg.Store.MemoryWindow,
		SweepInterval: cfg.Store.SweepInterval,
		TopK:          cfg.Store.TopK,
	}, profileRepo)
	store.StartSweeper(rootCtx)

	// Signal processors
	matcher := processors.CosineMatcher{}
	registry := processors.NewRegistry(
		processors.NewIPReputationProcessor(),
		processors.NewGeoVelocityProcessor(),
		processors.NewDeviceAnalysisProcessor(),
		processors.NewBehavioralProcessor(),
		processors.NewTimePatternProcessor(),
		processors.NewCredentialAnomalyProcessor(nil),
		processors.NewARGestureProcessor(matcher),
		processors.NewARGazeProcessor(matcher),
		processors.NewAREnvironmentProcessor(matcher),
		processors.NewARBiometricProcessor(matcher),
	)

	// Fraud model: remote when configured, logistic baseline otherwise
	var model mlmodel.Model = mlmodel.NewLogisticModel()
	if cfg.Connectors.MLEndpoint != "" {
		model = mlmodel.NewRemoteModel(cfg.Connectors.MLEndpoint, cfg.Connectors.MLAPIKey, cfg.Connectors.MLTimeout)
	}

	pipe := &pipeline.Pipeline{
		Tenants:    tenants,
		Store:      store,
		Processors: registry,
		Rules:      ruleEngine,
		Aggregator: aggregator.New(),
		Resolver:   policy.NewResolver(),
		Model:      model,
	}

	// Alert dispatch with retry worker
	dispatcher := notifier.NewDispatcher(
		notifier.NewHTTPGateway(cfg.Notifier),
		notifier.NewRedisCooldownStore(cacheClient),
		notifier.NewEscalationMatrix(),
		retryQueue,
		cfg.Notifier,
	)
	retryWorker := notifier.NewRetryWorker(retryQueue, dispatcher, "api-server")
	go retryWorker.Run(rootCtx)

	// Enrichment connectors
	var geolocator connectors.Geolocator
	var ipReputation connectors.IPReputation
	if cfg.Connectors.GeoBaseURL != "" {
		geolocator = connectors.NewCachedGeolocator(
			connectors.NewHTTPGeolocator(cfg.Connectors.GeoBaseURL, cfg.Connectors.GeoAPIKey),
			cacheClient,
			cfg.Connectors.GeoCacheTTL,
		)
		ipReputation = connectors.NewLocationIPReputation(geolocator)
	}

	// Decision orchestrator
	agents := []orchestrator.Agent{
		&orchestrator.BehaviorAgent{Weight: 0.35},
		&orchestrator.ModelAgent{Model: model, Weight: 0.35},
	}
	if ruleEngine != nil {
		agents = append(agents, &orchestrator.RuleAgent{Engine: ruleEngine, Weight: 0.30})
	}
	if cfg.Connectors.BureauBaseURL != "" {
		bureau := connectors.NewHTTPCreditBureau(cfg.Connectors.BureauBaseURL, cfg.Connectors.BureauAPIKey)
		agents = append(agents, &orchestrator.BureauAgent{Bureau: bureau, Weight: 0.20})
	}
	orch := orchestrator.New(0, agents...)

	analyticsService := analytics.NewService(assessmentRepo, alertRepo, cacheClient)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	deps := &serverDeps{
		jwtManager:     jwtManager,
		authService:    authService,
		pipeline:       pipe,
		orchestrator:   orch,
		tenants:        tenants,
		regions:        regions,
		store:          store,
		assessmentRepo: assessmentRepo,
		alertRepo:      alertRepo,
		analytics:      analyticsService,
		dispatcher:     dispatcher,
		retryQueue:     retryQueue,
		cache:          cacheClient,
		db:             db,
		geolocator:     geolocator,
		ipReputation:   ipReputation,
	}
	setupRoutes(router, deps)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	rootCancel()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// serverDeps bundles everything the route handlers need.
type serverDeps struct {
	jwtManager     *auth.JWTManager
	authService    *services.AuthService
	pipeline       *pipeline.Pipeline
	orchestrator   *orchestrator.Orchestrator
	tenants        *policy.Registry
	regions        *regional.Registry
	store          *contextstore.Store
	assessmentRepo *repositories.AssessmentRepository
	alertRepo      *repositories.AlertRepository
	analytics      *analytics.Service
	dispatcher     *notifier.Dispatcher
	retryQueue     *queue.AlertRetryQueue
	cache          *queue.CacheClient
	db             *repositories.Database
	geolocator     connectors.Geolocator
	ipReputation   connectors.IPReputation
}

func setupRoutes(router *gin.Engine, deps *serverDeps) {
	// Health check
	router.GET("/health", healthHandler(deps.db))

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(deps.authService))
		authRoutes.POST("/login", loginHandler(deps.authService))
		authRoutes.POST("/refresh", auth.AuthMiddleware(deps.jwtManager), refreshTokenHandler(deps.authService))
	}

	// Protected routes
	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(deps.jwtManager))

	// Assessment routes
	assessRoutes := protected.Group("/assessments")
	{
		assessRoutes.POST("", assessHandler(deps))
		assessRoutes.GET("/:id", getAssessmentHandler(deps))
		assessRoutes.GET("/user/:user_id", getUserAssessmentsHandler(deps.assessmentRepo))
	}

	// Orchestrated decisions
	protected.POST("/decisions", decideHandler(deps))

	// Tenant routes
	tenantRoutes := protected.Group("/tenants")
	{
		tenantRoutes.GET("", listTenantsHandler(deps.tenants))
		tenantRoutes.GET("/:id/policy", getTenantPolicyHandler(deps.tenants))
	}
	protected.POST("/tenants/reload", auth.RoleMiddleware("admin"), reloadTenantsHandler(deps.tenants, deps.regions))

	// Alert routes
	alertRoutes := protected.Group("/alerts")
	{
		alertRoutes.GET("/recent", getRecentAlertsHandler(deps.alertRepo))
		alertRoutes.GET("/:id", getAlertHandler(deps.alertRepo))
	}

	// Analytics routes (admin and analyst)
	analyticsRoutes := protected.Group("/analytics")
	analyticsRoutes.Use(auth.RoleMiddleware("admin", "analyst"))
	{
		analyticsRoutes.GET("/summary", getTenantSummaryHandler(deps.analytics))
		analyticsRoutes.GET("/summary/range", getTenantSummaryRangeHandler(deps.analytics))
	}

	// Enrichment tools (analyst utilities)
	if deps.ipReputation != nil {
		protected.GET("/tools/ip/:ip", auth.RoleMiddleware("admin", "analyst"), ipReputationHandler(deps.ipReputation))
	}

	// Metrics (admin and analyst)
	protected.GET("/metrics", auth.RoleMiddleware("admin", "analyst"), metricsHandler(deps))
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory rate limiter using token bucket algorithm
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Clean up old visitors periodically
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

func healthHandler(db *repositories.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrWeakPassword) || errors.Is(err, repositories.ErrOperatorAlreadyExists) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 {
			token = token[7:] // Remove "Bearer "
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// AssessRequest is the synchronous assessment API payload.
type AssessRequest struct {
	UserID      string                    `json:"user_id" binding:"required"`
	TenantID    string                    `json:"tenant_id" binding:"required"`
	SessionID   string                    `json:"session_id"`
	Region      string                    `json:"region"`
	IP          string                    `json:"ip"`
	AuthMethod  string                    `json:"auth_method"`
	Device      *models.DeviceFingerprint `json:"device"`
	Location    *models.LocationData      `json:"location"`
	AR          *models.ARData            `json:"ar_data"`
	Timestamp   *time.Time                `json:"timestamp"`
	Transaction *models.TransactionEvent  `json:"transaction"`
}

func (r *AssessRequest) authContext() *models.AuthContext {
	ts := time.Now()
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = *r.Timestamp
	}
	return &models.AuthContext{
		UserID:     r.UserID,
		TenantID:   r.TenantID,
		SessionID:  r.SessionID,
		IP:         r.IP,
		Device:     r.Device,
		Location:   r.Location,
		AuthMethod: r.AuthMethod,
		AR:         r.AR,
		Timestamp:  ts,
	}
}

func assessHandler(deps *serverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AssessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		authCtx := req.authContext()

		// Enrich missing location from the IP when the geo connector is wired.
		if authCtx.Location == nil && authCtx.IP != "" && deps.geolocator != nil {
			loc, err := deps.geolocator.Lookup(ctx, authCtx.IP)
			if err != nil {
				log.Warn().Err(err).Str("ip", authCtx.IP).Msg("Geolocation enrichment failed")
			} else {
				authCtx.Location = loc
			}
		}

		result, err := deps.pipeline.Assess(ctx, pipeline.Request{
			Auth:        authCtx,
			Region:      req.Region,
			Transaction: req.Transaction,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		assessment := result.Assessment
		if err := deps.assessmentRepo.Create(ctx, assessment); err != nil {
			log.Error().Err(err).
				Str("assessment_id", assessment.AssessmentID.String()).
				Msg("Failed to persist assessment")
		}
		cacheKey := "assessment:" + assessment.AssessmentID.String()
		if err := deps.cache.Set(ctx, cacheKey, assessment, 24*time.Hour); err != nil {
			log.Warn().Err(err).Msg("Assessment cache write failed")
		}

		c.JSON(http.StatusOK, gin.H{
			"assessment": assessment,
			"verdict":    result.Verdict,
			"ml_score":   result.MLScore,
			"anomalies":  result.Anomalies,
		})
	}
}

func getAssessmentHandler(deps *serverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assessment id"})
			return
		}

		ctx := c.Request.Context()
		cacheKey := "assessment:" + id.String()

		var cached models.RiskAssessment
		if err := deps.cache.Get(ctx, cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}

		assessment, err := deps.assessmentRepo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrAssessmentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "assessment not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, assessment)
	}
}

func getUserAssessmentsHandler(repo *repositories.AssessmentRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		assessments, total, err := repo.GetByUser(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"assessments": assessments,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

// DecideRequest is the orchestrated decision API payload.
type DecideRequest struct {
	AssessRequest
	TxPerHour int `json:"tx_per_hour"`
}

func decideHandler(deps *serverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DecideRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		authCtx := req.authContext()

		tenant, ok := deps.tenants.Tenant(authCtx.TenantID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown tenant %s", authCtx.TenantID)})
			return
		}
		authCtx.Tenant = tenant

		profile := deps.store.GetProfile(ctx, authCtx.UserID, authCtx.TenantID)
		signals := deps.pipeline.Processors.ProcessAll(authCtx.UserID, &processors.Input{
			Auth:    authCtx,
			Profile: profile,
			Recent:  deps.store.GetRecentEvents(authCtx.UserID),
			Tenant:  tenant,
			Policy:  &tenant.Policy,
		})

		decision := deps.orchestrator.Decide(ctx, &orchestrator.Input{
			Auth:        authCtx,
			Region:      req.Region,
			Profile:     profile,
			Signals:     signals,
			Transaction: req.Transaction,
			TxPerHour:   req.TxPerHour,
		})

		c.JSON(http.StatusOK, decision)
	}
}

func listTenantsHandler(tenants *policy.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := tenants.Tenants()
		out := make([]gin.H, 0, len(entries))
		for _, t := range entries {
			out = append(out, gin.H{
				"tenant_id": t.TenantID,
				"name":      t.Name,
				"regions":   t.Regions,
				"markets":   t.Markets,
			})
		}
		c.JSON(http.StatusOK, gin.H{"tenants": out})
	}
}

func getTenantPolicyHandler(tenants *policy.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenants.Tenant(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		c.JSON(http.StatusOK, tenant)
	}
}

func reloadTenantsHandler(tenants *policy.Registry, regions *regional.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := tenants.Reload(regions); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		log.Info().Int("tenants", len(tenants.Tenants())).Msg("Tenant registry reloaded")
		c.JSON(http.StatusOK, gin.H{
			"status":  "reloaded",
			"tenants": len(tenants.Tenants()),
		})
	}
}

func getRecentAlertsHandler(repo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Query("tenant_id")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}
		limit := getIntParam(c, "limit", 50)

		alerts, err := repo.GetRecent(c.Request.Context(), tenantID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
	}
}

func getAlertHandler(repo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		alert, err := repo.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, repositories.ErrAlertNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, alert)
	}
}

func getTenantSummaryHandler(service *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Query("tenant_id")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		date := time.Now()
		if raw := c.Query("date"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}

		summary, err := service.TenantSummaryFor(c.Request.Context(), tenantID, date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func getTenantSummaryRangeHandler(service *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Query("tenant_id")
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		start, err := time.Parse("2006-01-02", c.Query("start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
			return
		}
		end, err := time.Parse("2006-01-02", c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD"})
			return
		}
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end is before start"})
			return
		}

		summaries, err := service.TenantSummaryRange(c.Request.Context(), tenantID, start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"summaries": summaries})
	}
}

func ipReputationHandler(reputation connectors.IPReputation) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.Param("ip")
		result, err := reputation.Check(c.Request.Context(), ip)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ip": ip, "reputation": result})
	}
}

func metricsHandler(deps *serverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, err := deps.retryQueue.PendingCount(c.Request.Context())
		if err != nil {
			pending = -1
		}

		dbStats := deps.db.Stats()

		c.JSON(http.StatusOK, gin.H{
			"context_store": deps.store.MetricsSnapshot(),
			"tracked_users": deps.store.TrackedUsers(),
			"notifier":      deps.dispatcher.MetricsSnapshot(),
			"alert_retry": gin.H{
				"pending": pending,
			},
			"database": gin.H{
				"total_conns":    dbStats.TotalConns(),
				"idle_conns":     dbStats.IdleConns(),
				"acquired_conns": dbStats.AcquiredConns(),
			},
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func getIntParam(c *gin.Context, name string, defaultValue int) int {
	if raw := c.Query(name); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			return value
		}
	}
	return defaultValue
}
