// Package monitoring provides Prometheus metrics for the identity core.
//
// Metrics are registered against an engine-owned registry rather than the
// process default so multiple isolated engine instances can coexist. All
// record methods are nil-receiver safe.
package monitoring
