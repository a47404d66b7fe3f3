// Package logging builds slog loggers with kurz conventions: a colorized
// console handler for interactive use, a JSON handler for machine ingestion,
// and helpers that lift run/stage/job identifiers out of context into
// structured fields.
package logging
