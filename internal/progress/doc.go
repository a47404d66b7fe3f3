// Package progress broadcasts run progress events to listeners.
//
// Publishing is fire and forget: a failing listener is logged and
// skipped, never surfaced to the caller. A durable side channel
// mirrors state, progress, and artifacts into the run store on the
// same terms.
package progress
