/*
Package agent is the control loop of the monitor. Each tick it observes the
market, runs the deterministic anomaly filter, consults the language model
only when a signal fired, applies the policy table and hands the chosen
intent to the actor. Every step is appended to the event store and
broadcast to subscribers in pipeline order.

Ten consecutive failed observation ticks degrade the agent: the poll
interval slows tenfold until the chain answers again.
*/
package agent
