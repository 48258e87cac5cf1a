package handlers

import (
	"time"

	"ResQFlow/internal/allocation"
	"ResQFlow/internal/missing"
	"ResQFlow/internal/ratelimit"
	"ResQFlow/internal/sos"
	"ResQFlow/internal/stock"
	"ResQFlow/pkg/cache"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/middleware"
	"ResQFlow/pkg/search"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the services the HTTP layer drives. Search, Idempotency, GeoIP and Metrics are
// optional.
type Deps struct {
	DB          *gorm.DB
	SOS         *sos.Service
	Missing     *missing.Service
	Ledger      *stock.Ledger
	Suggestions *allocation.Service
	SOSLimiter  *ratelimit.Limiter
	HTTPLimiter *middleware.RateLimiter
	Search      search.Engine
	Idempotency cache.Cache
	GeoIP       middleware.GeoLocator
	Metrics     *metrics.Metrics

	APIPrefix      string
	APISecretKey   string
	RequestTimeout time.Duration
}

type Handlers struct {
	Deps
}

func NewHandlers(deps Deps) *Handlers {
	if deps.APIPrefix == "" {
		deps.APIPrefix = "/api"
	}
	registerValidators()
	return &Handlers{Deps: deps}
}

func (h *Handlers) Register(engine *gin.Engine) {
	if h.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	r := engine.Group(h.APIPrefix)
	r.Use(middleware.ActorMiddleware(), middleware.TimeoutMiddleware(h.RequestTimeout))
	if h.HTTPLimiter != nil {
		r.Use(h.HTTPLimiter.Middleware())
	}
	// Register System Module Routes
	h.registerSystemRoutes(r)

	// Register Business Module Routes
	audited := r.Group("")
	audited.Use(middleware.OperationLogMiddleware(h.DB, h.GeoIP))
	h.registerCivilianRoutes(audited)
	h.registerPDMARoutes(audited)
	h.registerDistrictRoutes(audited)
	h.registerNDMARoutes(audited)
	h.registerReasoningRoutes(audited)
}

func (h *Handlers) idempotent() gin.HandlerFunc {
	return middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{Store: h.Idempotency})
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("system")
	{
		system.GET("/health", h.HealthCheck)

		system.GET("/rate-limiter/config", h.GetRateLimiterConfig)

		system.POST("/rate-limiter/config", h.UpdateRateLimiterConfig)
	}
}

func (h *Handlers) registerCivilianRoutes(r *gin.RouterGroup) {
	civilian := r.Group("civilian")
	{
		civilian.POST("/sos", h.idempotent(), h.handleSubmitSOS)

		civilian.GET("/sos/:id", h.handleGetSOS)

		civilian.PUT("/sos/:id/cancel", h.handleCancelSOS)
	}
}

func (h *Handlers) registerPDMARoutes(r *gin.RouterGroup) {
	pdma := r.Group("pdma")
	{
		pdma.GET("/sos-requests", h.handleListSOS)

		pdma.GET("/sos-requests/search", h.handleSearchSOS)

		pdma.GET("/sos-requests/:id", h.handleGetSOS)

		pdma.GET("/sos-requests/:id/candidate-teams", h.handleCandidateTeams)

		pdma.PUT("/sos-requests/:id/assign-team", h.handleAssignTeam)

		pdma.PUT("/sos-requests/:id/status", h.handleUpdateSOSStatus)

		pdma.GET("/rescue-teams", h.handleListTeams)

		pdma.POST("/rescue-teams", h.handleCreateTeam)

		pdma.PUT("/rescue-teams/:id/availability", h.handleTeamAvailability)
	}
}

func (h *Handlers) registerDistrictRoutes(r *gin.RouterGroup) {
	district := r.Group("district")
	{
		district.POST("/missing-persons", h.handleCreateMissing)

		district.GET("/missing-persons", h.handleListMissing)

		district.GET("/missing-persons/:id", h.handleGetMissing)

		district.PUT("/missing-persons/:id/status", h.handleUpdateMissingStatus)
	}
}

func (h *Handlers) registerNDMARoutes(r *gin.RouterGroup) {
	ndma := r.Group("ndma")
	{
		ndma.GET("/stock", h.handleListStock)

		ndma.POST("/stock/restock", h.handleRestock)
	}
}

func (h *Handlers) registerReasoningRoutes(r *gin.RouterGroup) {
	reasoning := r.Group("reasoning")
	{
		reasoning.POST("/suggestions", middleware.SignVerifyMiddleware(h.APISecretKey, 5*time.Minute), h.handleIngestSuggestion)

		reasoning.GET("/suggestions", h.handleListSuggestions)

		reasoning.GET("/suggestions/stats", h.handleSuggestionStats)

		reasoning.GET("/suggestions/:id", h.handleGetSuggestion)

		reasoning.POST("/suggestions/:id/approve", h.idempotent(), h.handleApproveSuggestion)

		reasoning.POST("/suggestions/:id/reject", h.idempotent(), h.handleRejectSuggestion)
	}
}
