// Package dispatch forwards validated domain events to the external
// automation endpoint with bounded retries, persisting an auditable record
// of every attempt and dead-lettering events that exhaust the budget.
package dispatch
