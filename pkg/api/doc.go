/*
Package api serves the dashboard: JSON read endpoints over the event store
and live agent state, admin triggers for the demo attack and manual
restore, Prometheus metrics, health, and a WebSocket stream of new events.

Clients that fall behind the WebSocket buffer are disconnected and resync
through /api/events?from=<last seen id>.
*/
package api
