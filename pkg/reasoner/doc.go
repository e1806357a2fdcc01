/*
Package reasoner is the cost-gated classification stage.

Three dedup structures keep model spend proportional to distinct incidents:
the block number of the last call, a truncated SHA-256 digest of the last
prompt context, and a bounded insertion-ordered set of analyzed liquidation
keys. A call is only issued when all three miss.

Replies are parsed as strict JSON after markdown fence stripping; transport
failures and content failures degrade to UNKNOWN_ANOMALY at 0.5 confidence
with different dedup behavior, so transport errors retry while garbage
replies do not loop.
*/
package reasoner
