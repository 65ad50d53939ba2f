// Package messaging ingests asynchronous delivery-status callbacks from the
// messaging provider and applies them monotonically to stored message state.
package messaging
