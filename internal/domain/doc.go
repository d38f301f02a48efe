// Package domain defines the core types of the campaign dispatch engine.
//
// Types in this package are value objects with no database dependencies and
// no HTTP concerns. They are the shared language between the dispatcher,
// services, handlers and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Defaulting and validation methods are allowed (pure functions on the type)
//   - Constants and enums belong here
package domain
