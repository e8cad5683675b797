// Package httpapi builds the Gin engine: the middleware chain, the
// checkout endpoints, the operator (/admin) endpoints and the partner
// session endpoints (/upstream). Admin and upstream responses are never
// cached.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/config"
	"github.com/tbourn/go-labsync-backend/internal/docs"
	"github.com/tbourn/go-labsync-backend/internal/http/handlers"
	"github.com/tbourn/go-labsync-backend/internal/http/middleware"
	"github.com/tbourn/go-labsync-backend/internal/repo"
	"github.com/tbourn/go-labsync-backend/internal/services"
)

// Deps are the collaborators RegisterRoutes builds services from.
//
// Gate and Creds are optional; without them the /upstream endpoints answer
// 404.
type Deps struct {
	DB     *gorm.DB
	Pricer services.Pricer
	Syncer services.Syncer
	Gate   handlers.GateStatus
	Creds  handlers.Credentials
}

// Bulk sync budget per principal: two runs back to back, then one every 5s.
const (
	bulkSyncRPS   = 0.2
	bulkSyncBurst = 2
)

// allowHeaders are the request headers accepted cross-origin.
var allowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderAdminID, middleware.HeaderIdempotencyKey,
}

// RegisterRoutes installs middleware and mounts the API under
// cfg.APIBasePath. Chain order, outermost first:
//
//	otelgin, RequestID, RedactingLogger, Recovery, body limit, Metrics,
//	IdempotencyValidator, RateLimiter, CORS, gzip, SecurityHeaders
//
// The validator runs before the limiter so replays can bypass it.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	db := deps.DB

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-Partner-Token"}}),
		middleware.Recovery(),
		limitBody(1<<20),
		middleware.Metrics(),
	)
	// /metrics is outside idempotency, limiting and gzip.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(db)))

	// Bulk sync fans out to the partner and gets a tighter bucket.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP(),
		middleware.WithRouteLimit(http.MethodPost, joinPath(cfg.APIBasePath, "/admin/orders/sync"), bulkSyncRPS, bulkSyncBurst))
	r.Use(rl.Handler())

	r.Use(corsChain(cfg.CORS.AllowedOrigins)...)

	// Order lists and sync runs compress well.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	apiBase := cfg.APIBasePath

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	orderSvc := &services.OrderService{DB: db, Pricer: deps.Pricer}
	syncSvc := &services.SyncService{DB: db, Syncer: deps.Syncer, MaxOrders: cfg.Sync.MaxOrders}

	opts := []handlers.Option{handlers.WithIdempotencyTTL(cfg.IdempotencyTTL)}
	if deps.Gate != nil && deps.Creds != nil {
		opts = append(opts, handlers.WithUpstream(deps.Gate, deps.Creds, cfg.Upstream.Principal))
	}
	h := handlers.New(orderSvc, syncSvc, opts...)

	api := groupWithPrefix(r, apiBase)
	{
		// Checkout
		api.POST("/cart/reconcile", h.ReconcileCart)
		api.POST("/orders", h.PlaceOrder)

		// Partner integration health
		up := api.Group("/upstream", middleware.NoStore())
		up.GET("/status", h.UpstreamStatus)
		up.POST("/session/refresh", h.RefreshSession)

		// Operator actions
		admin := api.Group("/admin", middleware.NoStore())
		admin.GET("/orders", h.ListOrders)
		admin.GET("/orders/:id", h.GetOrder)
		admin.PUT("/orders/:id/reference", h.SetOrderReference)
		admin.POST("/orders/sync", h.SyncOrders)
		admin.POST("/orders/:id/sync", h.SyncOrder)
		admin.GET("/sync-runs/:id", h.GetSyncRun)
	}
}

// limitBody caps request bodies at maxBytes; oversized reads fail in the
// binding step.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath joins a base path and a route the way groupWithPrefix mounts it.
func joinPath(base, route string) string {
	if base == "" || base == "/" {
		return route
	}
	return strings.TrimRight(base, "/") + route
}

// idempotencyLookup reports whether a live record exists for the tuple.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, principal, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, principal, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsExpose  = []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
)

// corsChain allows any origin when origins is empty and otherwise echoes
// allowlisted origins. The explicit header handler sets
// Access-Control-Allow-Origin even on requests gin-contrib/cors ignores
// (no Origin header, or same-host).
func corsChain(origins []string) []gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  allowHeaders,
		ExposeHeaders: corsExpose,
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		star := func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		return []gin.HandlerFunc{star, cors.New(cc)}
	}

	cc.AllowOrigins = origins
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	echo := func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); allowed[origin] {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
	}
	return []gin.HandlerFunc{echo, cors.New(cc)}
}
