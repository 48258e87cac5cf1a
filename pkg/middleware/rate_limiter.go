package middleware

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "ResQFlow/pkg/errors"
	"ResQFlow/pkg/logger"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiterConfig HTTP 层限流配置
//
// 示例：
// Rate: "100-M"、Identifier: "ip"/"actor"/"header"/"ip+route"、HeaderName: "X-Client-ID"
// PerRouteRates: {"/api/civilian/sos": "30-M"}
// WhitelistCIDRs: ["10.0.0.0/8", "127.0.0.1/32"]
// SkipPaths: ["/api/system/health", "/metrics"] 前缀匹配
type RateLimiterConfig struct {
	Rate           string            `json:"rate"`
	PerRouteRates  map[string]string `json:"per_route_rates"`
	Identifier     string            `json:"identifier"`
	HeaderName     string            `json:"header_name"`
	WhitelistCIDRs []string          `json:"whitelist_cidrs"`
	BlacklistCIDRs []string          `json:"blacklist_cidrs"`
	SkipPaths      []string          `json:"skip_paths"`
	AddHeaders     bool              `json:"add_headers"`
}

// Validate checks every rate string parses.
func (cfg RateLimiterConfig) Validate() error {
	fields := map[string]string{}
	if cfg.Rate != "" {
		if _, err := limiter.NewRateFromFormatted(cfg.Rate); err != nil {
			fields["rate"] = err.Error()
		}
	}
	for route, r := range cfg.PerRouteRates {
		if _, err := limiter.NewRateFromFormatted(r); err != nil {
			fields["per_route_rates."+route] = err.Error()
		}
	}
	for _, c := range append(append([]string{}, cfg.WhitelistCIDRs...), cfg.BlacklistCIDRs...) {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(c)); err != nil {
			fields["cidr"] = fmt.Sprintf("invalid cidr %q", c)
		}
	}
	if len(fields) > 0 {
		return apperrors.Validation(fields)
	}
	return nil
}

// NewLimiterStore picks the ulule store: redis when a client is given, memory otherwise.
func NewLimiterStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          prefix,
			CleanUpInterval: time.Minute,
		}), nil
	}
	return sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
}

// RateLimiter 面向实例的限流器，按速率字符串缓存 limiter
type RateLimiter struct {
	mu             sync.RWMutex
	cfg            RateLimiterConfig
	store          limiter.Store
	limitersByRate map[string]*limiter.Limiter
	whiteCIDRs     []*net.IPNet
	blackCIDRs     []*net.IPNet
}

func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	l := &RateLimiter{store: store}
	l.UpdateConfig(cfg)
	return l
}

// Config returns a copy of the active configuration.
func (l *RateLimiter) Config() RateLimiterConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// UpdateConfig swaps the configuration and drops cached limiters.
func (l *RateLimiter) UpdateConfig(cfg RateLimiterConfig) {
	white := compileCIDRs(cfg.WhitelistCIDRs)
	black := compileCIDRs(cfg.BlacklistCIDRs)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.whiteCIDRs = white
	l.blackCIDRs = black
	l.limitersByRate = make(map[string]*limiter.Limiter)
}

// Middleware 返回 Gin 中间件
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l.mu.RLock()
		cfg, white, black := l.cfg, l.whiteCIDRs, l.blackCIDRs
		l.mu.RUnlock()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if pathSkipped(cfg.SkipPaths, route) {
			c.Next()
			return
		}

		clientIP := clientIPFromRequest(c)
		if ipListed(clientIP, white) {
			c.Next()
			return
		}
		if ipListed(clientIP, black) {
			metrics.G().RecordRateLimit("http", false)
			deny(c, 0)
			return
		}

		key := buildLimitKey(cfg, c, clientIP, route)
		lim := l.limiterFor(pickRate(cfg, route))
		lctx, err := lim.Get(c.Request.Context(), key)
		if err != nil {
			// fail open
			logger.Warn("rate limiter store error", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}
		if cfg.AddHeaders {
			setStandardHeaders(c, lctx)
		}
		if lctx.Reached {
			metrics.G().RecordRateLimit("http", false)
			deny(c, time.Until(time.Unix(lctx.Reset, 0)))
			return
		}
		metrics.G().RecordRateLimit("http", true)
		c.Next()
	}
}

func (l *RateLimiter) limiterFor(rateStr string) *limiter.Limiter {
	l.mu.RLock()
	lim, ok := l.limitersByRate[rateStr]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limitersByRate[rateStr]; ok {
		return lim
	}
	r, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		r = limiter.Rate{Period: time.Second, Limit: 10}
	}
	lim = limiter.New(l.store, r)
	l.limitersByRate[rateStr] = lim
	return lim
}

func pickRate(cfg RateLimiterConfig, route string) string {
	if r, ok := cfg.PerRouteRates[route]; ok && r != "" {
		return r
	}
	if cfg.Rate != "" {
		return cfg.Rate
	}
	return "10-S"
}

func compileCIDRs(cidrs []string) []*net.IPNet {
	var out []*net.IPNet
	for _, c := range cidrs {
		if _, ipnet, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			out = append(out, ipnet)
		}
	}
	return out
}

func pathSkipped(prefixes []string, path string) bool {
	for _, pref := range prefixes {
		if pref != "" && strings.HasPrefix(path, pref) {
			return true
		}
	}
	return false
}

func clientIPFromRequest(c *gin.Context) string {
	return strings.TrimPrefix(c.ClientIP(), "::ffff:")
}

func ipListed(ip string, nets []*net.IPNet) bool {
	pip := net.ParseIP(ip)
	if pip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(pip) {
			return true
		}
	}
	return false
}

func buildLimitKey(cfg RateLimiterConfig, c *gin.Context, ip, route string) string {
	switch cfg.Identifier {
	case "actor":
		if actor := ActorFrom(c).ID; actor != "" {
			return "actor:" + actor
		}
		return "ip:" + ip
	case "header":
		if hv := strings.TrimSpace(c.GetHeader(cfg.HeaderName)); hv != "" {
			return "hdr:" + cfg.HeaderName + ":" + hv
		}
		return "ip:" + ip
	case "ip+route":
		return "iprt:" + ip + ":" + route
	default:
		return "ip:" + ip
	}
}

func setStandardHeaders(c *gin.Context, lctx limiter.Context) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
}

func deny(c *gin.Context, retry time.Duration) {
	sec := int(retry.Seconds())
	if sec < 0 {
		sec = 0
	}
	c.Header("Retry-After", strconv.Itoa(sec))
	response.Fail(c, apperrors.New(apperrors.KindRateLimited, "too many requests").
		WithContext("retryAfter", strconv.Itoa(sec)))
}
