// Package providers defines the asset generator capabilities consumed
// by the scheduler and the implementations selected by configuration.
//
// Each capability gets its own interface so a run binds concrete
// generators exactly once at start. Every generator must tolerate
// repeated calls for the same job spec because jobs are retried.
package providers
