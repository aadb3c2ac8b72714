// Package shepherd provides the core of a distributed background job
// processor for Go. Many independent server processes cooperatively execute
// deferred and recurring jobs against one shared store, without a dedicated
// coordinator, and survive crashes without losing track of work.
//
// Shepherd is a library, not a service. Pick a store, register runners, and
// start a server:
//
//	s, err := server.New(pgStore,
//	    server.WithRunner(handlers),
//	    server.WithPollInterval(15*time.Second),
//	)
//	if err != nil { ... }
//	if err := s.Start(ctx); err != nil { ... }
//	defer s.Stop(context.Background())
//
// # Architecture
//
// Correctness under concurrency comes from two store-level guards rather
// than from locking:
//
//   - every job carries a version; a save presenting a stale version fails
//     with ErrConcurrentModification and changes nothing;
//   - recurring job instances carry a signature and a deterministic id, so
//     materializing the same due instant twice yields one job.
//
// Each subsystem (job, recurring, cluster, metadata) defines its own store
// interface; a single backend implements all of them (see package store).
package shepherd
