/*
Package types defines the core data model shared by all Sentinel components.

Every value crossing a module boundary is a tagged struct with explicit
fields: Snapshot (per-cycle market state), AnomalySignal (deterministic
filter output), Classification (reasoner verdict), Intent (decider output),
ActionRecord (actor result) and Event (the store's tagged union).

Prices are 8-decimal fixed point integers and reserves are raw token units;
percentages are carried as basis points. Floating point appears only in
display payloads, never in decision math.
*/
package types
