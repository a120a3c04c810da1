// Package clock provides the Lamport logical clock each node advances on
// every event. Receives synchronize the clock with the max+1 rule, which
// yields a partial causal ordering across the ring.
package clock
