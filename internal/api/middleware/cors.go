package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig allows the chat widget from any origin.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"Authorization",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
			"X-Thread-ID",
		},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
}

// WithOrigins narrows the allowed origins. Credentials are only allowed
// for an explicit list, browsers reject them alongside a wildcard.
func (c CORSConfig) WithOrigins(origins []string) CORSConfig {
	var kept []string
	for _, o := range origins {
		if o != "" {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		return c
	}
	c.AllowOrigins = kept
	c.AllowCredentials = !(len(kept) == 1 && kept[0] == "*")
	return c
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
	if len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*" {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = cfg.AllowOrigins
	}
	return cors.New(conf)
}
