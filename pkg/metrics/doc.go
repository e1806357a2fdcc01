/*
Package metrics exposes Sentinel's Prometheus collectors and component
health tracking.

All collectors are package-level and registered in init(); components update
them inline as cycles, classifications, actions and restores happen. The
health checker aggregates per-component status for /health and /ready.
*/
package metrics
