// Package health provides a small pluggable health-check abstraction used to
// track the reachability of external dependencies (chiefly the store) and to
// back the supervisor's readiness surface.
//
// A Checker performs one check and returns a Result; a Status accumulates
// Results over time with simple hysteresis (N consecutive failures before a
// dependency is marked unhealthy, one success to recover). The only Checker
// implementation shipped here is TCPChecker, used by the supervisor to probe
// the store's TCP endpoint independently of whether the last store command
// succeeded.
package health
