package middleware

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"wompi-pay/internal/utils"

	"golang.org/x/time/rate"
)

type rateTier struct {
	name  string
	limit rate.Limit
	burst int
}

var (
	// Gateway servers deliver events in bursts after an outage.
	tierWebhook = rateTier{"webhook", rate.Limit(20), 50}
	// Browser-facing checkout values.
	tierPublic   = rateTier{"public", rate.Limit(2), 5}
	tierGeneral  = rateTier{"general", rate.Limit(10), 20}
	tierInternal = rateTier{"internal", rate.Limit(100), 200}
)

const (
	paymentPathPrefix = "/payment/wompi/"
	webhookPath       = paymentPathPrefix + "webhook/"

	visitorTTL = 3 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex
)

func init() {
	go cleanupVisitors()
}

func getVisitor(key string, tier rateTier) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	v, ok := visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(tier.limit, tier.burst)}
		visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > visitorTTL {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimitMiddleware answers 429 once a caller exhausts its tier. Callers
// are keyed by peer IP; X-Forwarded-For counts only when the peer is listed
// in TRUSTED_PROXIES.
func RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := resolveRateTier(r)

		trusted := utils.ParseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
		identity := "ip:" + utils.ClientIP(r, trusted)

		if !getVisitor(identity+":"+tier.name, tier).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func resolveRateTier(r *http.Request) rateTier {
	if key := os.Getenv("INTERNAL_SECRET_KEY"); key != "" && r.Header.Get("X-Service-Auth") == key {
		return tierInternal
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == webhookPath:
		return tierWebhook
	case strings.HasPrefix(r.URL.Path, paymentPathPrefix):
		return tierPublic
	default:
		return tierGeneral
	}
}
