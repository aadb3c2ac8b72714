// Package cluster provides server heartbeats and heartbeat-based leader
// election.
//
// Every running server announces a [ServerHeartbeat] and refreshes it once
// per poll interval. A heartbeat that has not been refreshed for
// ServerTimeoutMultiplicand poll intervals is evicted by any live peer.
//
// # Leader Election
//
// The live heartbeat with the earliest FirstHeartbeat is the leader; ties
// are broken by server id. Every [Monitor] recomputes the answer each cycle
// from the store, so all servers looking at the same set of heartbeats
// agree on one leader without any extra coordination.
//
// When a server finds its own heartbeat evicted while it is still alive
// (a long pause or clock skew) it resets itself and announces again. After
// MaxElectionResets resets the next eviction is fatal.
//
// # Kubernetes
//
// The cluster/k8s sub-package stores heartbeats as coordination.k8s.io
// Leases instead of store records.
package cluster
