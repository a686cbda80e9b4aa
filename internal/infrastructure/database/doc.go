// Package database provides SQLite connectivity for Doorman Core.
//
// This package manages:
//   - Connection lifecycle with WAL mode and busy-timeout pragmas
//   - Embedded SQL migrations applied at startup
//   - Health checks for readiness probes
//
// SQLite is deliberate: the gateway runs close to the hardware it guards
// and must keep working with no external services. Repositories in the
// device, visitor, and auth packages build on the *sql.DB this package
// exposes; none of them talk to the driver directly.
package database
