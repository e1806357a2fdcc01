// Package anomaly implements the deterministic filter that gates the
// expensive reasoning stage. Six integer-arithmetic rules cover oracle
// deviation, oracle update bursts, swap patterns, dip-and-recover shapes,
// liquidations under a skewed price, and extreme single-tick moves. All
// threshold comparisons are strict.
package anomaly
