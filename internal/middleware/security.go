package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HSTSPolicy configures Strict-Transport-Security. A zero MaxAge omits the header.
type HSTSPolicy struct {
	MaxAge            time.Duration
	IncludeSubdomains bool
	Preload           bool
}

func (p HSTSPolicy) value() string {
	if p.MaxAge <= 0 {
		return ""
	}
	v := "max-age=" + strconv.FormatInt(int64(p.MaxAge/time.Second), 10)
	if p.IncludeSubdomains {
		v += "; includeSubDomains"
	}
	if p.Preload {
		v += "; preload"
	}
	return v
}

// SecurityHeadersConfig lists the protective response headers for one route group.
// Empty string fields are not sent.
type SecurityHeadersConfig struct {
	HSTS              HSTSPolicy
	FrameOptions      string // DENY or SAMEORIGIN
	NoSniff           bool
	CSP               string
	ReferrerPolicy    string
	PermissionsPolicy string
	// ResourcePolicy is the Cross-Origin-Resource-Policy value; empty means same-origin.
	ResourcePolicy string
}

// APISecurityHeadersConfig is used for every /api route. Responses are JSON only, so
// nothing may be framed, sniffed or loaded as a subresource.
func APISecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		HSTS:           HSTSPolicy{MaxAge: 365 * 24 * time.Hour, IncludeSubdomains: true},
		FrameOptions:   "DENY",
		NoSniff:        true,
		CSP:            "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy: "no-referrer",
	}
}

// FileSecurityHeadersConfig is used for item images served from local storage. The
// frontend lives on another origin and embeds them with <img>.
func FileSecurityHeadersConfig() SecurityHeadersConfig {
	cfg := APISecurityHeadersConfig()
	cfg.CSP = "default-src 'none'; img-src 'self'; sandbox"
	cfg.ResourcePolicy = "cross-origin"
	return cfg
}

// headers flattens cfg into the exact header set written on each response.
func (cfg SecurityHeadersConfig) headers() http.Header {
	h := http.Header{}
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}

	set("Strict-Transport-Security", cfg.HSTS.value())
	set("X-Frame-Options", cfg.FrameOptions)
	if cfg.NoSniff {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	set("Content-Security-Policy", cfg.CSP)
	set("Referrer-Policy", cfg.ReferrerPolicy)
	set("Permissions-Policy", cfg.PermissionsPolicy)

	h.Set("X-Permitted-Cross-Domain-Policies", "none")
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	corp := cfg.ResourcePolicy
	if corp == "" {
		corp = "same-origin"
	}
	h.Set("Cross-Origin-Resource-Policy", corp)
	return h
}

// SecurityHeadersMiddleware writes the headers described by cfg before the handler runs.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	fixed := cfg.headers()
	return func(c *gin.Context) {
		out := c.Writer.Header()
		for k, v := range fixed {
			out[k] = slices.Clone(v)
		}
		c.Next()
	}
}
