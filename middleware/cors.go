package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig defines the config for CORS middleware
type CORSConfig struct {
	// AllowedOrigins is a list of origins a cross-domain request can be executed from
	AllowedOrigins []string

	// AllowCredentials indicates whether the request can include user credentials
	AllowCredentials bool

	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string

	// MaxAge indicates how long (in seconds) the results of a preflight request can be cached
	MaxAge int
}

// DefaultCORSConfig returns a default CORS config
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           3600,
	}
}

// ParseOrigins splits a comma separated origin list.
func ParseOrigins(list string) []string {
	var origins []string
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// originMatcher answers whether an origin is allowed. Entries may be exact
// origins or "scheme://*.domain" patterns covering every subdomain.
type originMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if scheme, host, ok := strings.Cut(o, "://*."); ok {
			m.suffixes = append(m.suffixes, scheme+"://|."+host)
			continue
		}
		m.exact[o] = struct{}{}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, s := range m.suffixes {
		scheme, domain, _ := strings.Cut(s, "|")
		rest, ok := strings.CutPrefix(origin, scheme)
		if ok && strings.HasSuffix(rest, domain) && len(rest) > len(domain) {
			return true
		}
	}
	return false
}

// CORS answers preflights and sets the allow headers for permitted origins.
// An empty origin list allows every origin without credentials.
func CORS(config ...CORSConfig) fiber.Handler {
	cfg := DefaultCORSConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	matcher := newOriginMatcher(cfg.AllowedOrigins)
	wildcard := len(cfg.AllowedOrigins) == 0
	preflight := map[string]string{
		"Access-Control-Allow-Methods":  strings.Join(cfg.AllowedMethods, ","),
		"Access-Control-Allow-Headers":  strings.Join(cfg.AllowedHeaders, ","),
		"Access-Control-Expose-Headers": strings.Join(cfg.ExposedHeaders, ","),
		"Access-Control-Max-Age":        strconv.Itoa(cfg.MaxAge),
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")
		allowed := false
		switch {
		case wildcard:
			c.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && matcher.allows(origin):
			allowed = true
			c.Set("Access-Control-Allow-Origin", origin)
			c.Vary("Origin")
			if cfg.AllowCredentials {
				c.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Method() != fiber.MethodOptions {
			return c.Next()
		}
		if allowed || wildcard {
			for k, v := range preflight {
				c.Set(k, v)
			}
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
