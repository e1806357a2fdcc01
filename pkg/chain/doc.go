/*
Package chain is the only component that talks to the Ethereum RPC endpoint.

It wraps an ethclient-compatible backend behind a small Backend interface,
binds the frozen oracle, AMM and vault ABIs, and exposes typed view and
transaction helpers. Errors are split into TransientError (retry with
backoff) and PermanentError (revert, bad nonce, malformed response);
ambiguous failures classify as transient.

A single signer submits all transactions. Nonce management is local and
serialized, and the cached nonce is discarded after any permanent error.
*/
package chain
