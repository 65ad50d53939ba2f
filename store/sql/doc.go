// Package sqlstore implements the persistence contracts from core on top of
// bun. Postgres is the production dialect; the sqlite dialect backs the
// integration tests and local development.
package sqlstore
