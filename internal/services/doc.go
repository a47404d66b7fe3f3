// Package services defines the shared error taxonomy and context annotation
// helpers used across the orchestration engine. Errors carry a sentinel
// marker that the scheduler's retry policy classifies without inspecting
// message text.
package services
