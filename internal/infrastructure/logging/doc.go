// Package logging provides structured logging for Ember Core.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, destination) and default fields identifying the
// service and build version.
//
// Leaf packages that need logging should declare their own small Logger
// interface rather than importing this package, so they stay testable
// with a no-op implementation. The *logging.Logger satisfies those
// interfaces structurally.
package logging
