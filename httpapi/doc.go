// Package httpapi exposes the webhook pipeline over HTTP: the signed inbound
// endpoint, the provider status callback, the lifecycle callback, and a
// health probe.
package httpapi
