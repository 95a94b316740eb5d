// Package middleware provides the gin middleware in front of the netcore API.
//
// CORS wraps gin-contrib/cors and exposes the X-Upstream-* headers that
// /fetch sets. RateLimit keeps one token bucket per client IP and drops
// buckets idle for longer than IdleTTL; GlobalRateLimit shares one bucket.
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
