// Package core contains the canonical webhook domain contracts, entities, and
// configuration. Storage and transport adapters depend on this package; core
// must not depend on storage- or transport-specific adapters.
package core
