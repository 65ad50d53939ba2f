// Package webhooks implements the inbound webhook pipeline: signature and
// freshness verification, atomic idempotency claims, type registry and
// structural payload validation, and burst coalescing for noisy event types.
package webhooks
