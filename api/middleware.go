package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"displayfleet/models"
	"displayfleet/service"
)

const principalKey = "principal"

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, X-API-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// requestToken reads X-API-Token, then a Bearer Authorization header,
// then the token query parameter (browsers cannot set websocket headers).
func requestToken(c *gin.Context) string {
	if tok := c.GetHeader("X-API-Token"); tok != "" {
		return tok
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

// AuthMiddleware rejects requests without a valid token and stores the
// resolved principal on the context.
func AuthMiddleware(auth service.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.Authorize(requestToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse(err.Error()))
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// AdminOnlyMiddleware rejects non-admin principals with 403. It runs
// after AuthMiddleware.
func AdminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principalFrom(c).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, models.CodedErrorResponse("forbidden", "admin token required"))
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) service.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(service.Principal); ok {
			return p
		}
	}
	return service.Principal{}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

const maxTrackedVisitors = 10000

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	v, ok := l.visitors[ip]
	if !ok {
		if len(l.visitors) >= maxTrackedVisitors {
			for k, old := range l.visitors {
				if now.Sub(old.lastSeen) > time.Minute {
					delete(l.visitors, k)
				}
			}
		}
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// RateLimitMiddleware throttles device endpoints per client IP. A
// non-positive rps disables it.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := &ipRateLimiter{visitors: map[string]*visitor{}, rps: rate.Limit(rps), burst: burst}
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse("rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// RegisterValidators adds the hwaddr rule to gin's binding validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("hwaddr", func(fl validator.FieldLevel) bool {
		_, err := models.NormalizeHardwareAddr(fl.Field().String())
		return err == nil
	})
}
