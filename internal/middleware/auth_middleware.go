package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/ratelimit"
	"github.com/agentmesh/trustgate/internal/registry"
	"github.com/agentmesh/trustgate/internal/utils"
)

// AuthMiddleware authenticates agent requests against the registry and gates
// them through the per-client rate limiter.
type AuthMiddleware struct {
	reg     *registry.Registry
	badAuth *invalidAuthLimiter
}

// NewAuthMiddleware constructs a new AuthMiddleware.
func NewAuthMiddleware(reg *registry.Registry) *AuthMiddleware {
	return &AuthMiddleware{
		reg:     reg,
		badAuth: newInvalidAuthLimiter(),
	}
}

// Handle returns a Gin middleware function that enforces authentication and
// rate limiting. Credential public id travels in X-Credential-Id; the secret
// in the Authorization bearer token.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Extract bearer secret
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			m.handleAuthError(c)
			return
		}
		secret := strings.TrimPrefix(authHeader, "Bearer ")
		publicID := c.GetHeader("X-Credential-Id")

		// 2. Authenticate. The registry returns the same outcome for unknown
		// ids, wrong secrets, and non-active clients.
		view, err := m.reg.Authenticate(publicID, secret)
		if err != nil {
			m.handleAuthError(c)
			return
		}

		// 3. Rate limit gate
		if m.reg.CheckAndRecord(view.ClientID) == ratelimit.Denied {
			utils.Error(c, 429, "RATE_LIMITED", "Request ceiling reached for the current window")
			c.Abort()
			return
		}

		// 4. Set context values
		c.Set("client", view)
		c.Set("client_id", view.ClientID)

		c.Next()
	}
}

// handleAuthError answers every authentication failure identically, with an
// IP backoff against credential probing.
func (m *AuthMiddleware) handleAuthError(c *gin.Context) {
	if !m.badAuth.allow(c.ClientIP()) {
		utils.Error(c, 429, "TOO_MANY_REQUESTS", "Too many invalid authentication attempts")
		c.Abort()
		return
	}
	utils.Error(c, 401, "UNAUTHENTICATED", "Invalid credentials")
	c.Abort()
}

// GetClient returns the authenticated client view from context.
func GetClient(c *gin.Context) *models.View {
	v, _ := c.Get("client")
	if v == nil {
		return nil
	}
	return v.(*models.View)
}

// invalidAuthLimiter throttles failed authentication attempts per source IP:
// 5 per minute. It exists to slow credential enumeration, separate from the
// per-client request limiter which only applies after authentication.
type invalidAuthLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptInfo
}

type attemptInfo struct {
	count   int
	firstAt time.Time
}

func newInvalidAuthLimiter() *invalidAuthLimiter {
	l := &invalidAuthLimiter{attempts: make(map[string]*attemptInfo)}
	go l.cleanup()
	return l
}

func (l *invalidAuthLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	info, exists := l.attempts[ip]
	if !exists || now.Sub(info.firstAt) > time.Minute {
		l.attempts[ip] = &attemptInfo{count: 1, firstAt: now}
		return true
	}
	if info.count >= 5 {
		return false
	}
	info.count++
	return true
}

func (l *invalidAuthLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for ip, info := range l.attempts {
			if now.Sub(info.firstAt) > time.Minute {
				delete(l.attempts, ip)
			}
		}
		l.mu.Unlock()
	}
}
