// Package authcore is the session security core of the visa application
// intake platform: credential verification with brute-force lockout, signed
// access/refresh token pairs, single-use refresh rotation with theft
// detection, request rate limiting, and CSRF protection for the
// cookie-authenticated surface.
//
// All shared state lives in Redis, so any number of engine instances behind
// a load balancer enforce the same lockouts, limits, and revocations.
// Account persistence is supplied by the embedder through AccountStore.
//
// Build an engine with the Builder:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithAccountStore(accounts).
//		WithAuditSink(authcore.NewJSONAuditSink(os.Stdout)).
//		Build()
//
// The middleware package adapts the engine to net/http handler chains and
// httpapi exposes ready-made Gin endpoints.
package authcore
