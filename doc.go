// Package authcore is an embeddable authentication and session-security
// core for multi-tenant services: credential verification with
// progressive lockout, JWT access/refresh lifecycle with rotation and
// revocation, TOTP multi-factor auth with backup codes, per-tenant
// session policies and advisory IP reputation.
//
// The host application supplies an AccountStore for durable account
// state and a Redis client for the hot keyed state (sessions, lockout
// counters, the revocation list). Construct one Engine and share it:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithAccounts(store).
//		WithAuditSink(authcore.NewJSONWriterSink(os.Stderr)).
//		Build()
//
// Request-scoped inputs (client IP, tenant, user agent) travel on the
// context via WithClientIP, WithTenantID and WithUserAgent.
package authcore
