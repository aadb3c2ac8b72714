// Package k8s provides a Kubernetes-native cluster.Store implementation.
//
// Every server is represented by one coordination/v1 Lease. The holder
// identity is the server ID, AcquireTime is the first heartbeat and
// RenewTime the last one. The remaining heartbeat fields are kept in
// annotations. Leases are discovered with a label selector, so several
// shepherd deployments can share a namespace.
//
// Example:
//
//	client := kubernetes.NewForConfigOrDie(rest.InClusterConfig())
//	servers := k8s.New(client, "my-namespace")
//	// Use servers as the cluster.Store of a background job server
package k8s
