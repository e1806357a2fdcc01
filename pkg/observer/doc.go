/*
Package observer assembles the per-cycle market snapshot.

Each tick reads the current block, the oracle and pool views, and the
protocol logs since the previous tick, then derives the pool spot price and
the signed oracle deviation in integer basis points. Snapshots that fail
validation (empty reserves, reported spot disagreeing with the reserves) are
emitted but marked invalid so downstream stages skip them.

A bounded rolling history backs the three-block recovery rule and the
price API.
*/
package observer
