// Package subgraph owns one subgraph instance.
//
// Ownership boundary:
// - counter of record and entity table
//
// - local fan-out to stream subscribers
//
// - bus replication per policy (headless, publish, sync)
//
// - HTTP and WebSocket surface
//
// Mutation order:
// - apply -> fan-out -> bus send
//
// - fan-out and bus send never fail a mutation.
//
// - the bus may be down for the whole process lifetime.
//
// Subgraph does not own schema composition; the gateway does.
package subgraph
