// Package ext defines the extension system for Shepherd.
//
// Extensions observe job state transitions and server lifecycle events.
// Each hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnStateApplied(ctx context.Context, j *job.Job, from job.StateName) error {
//	    log.Printf("job %s moved from %s to %s", j.ID, from, j.StateName())
//	    return nil
//	}
//
// # State Filters
//
//   - [StateElection]: a state is about to be saved
//   - [StateApplied]: a state was saved
//
// # Execution Hooks
//
//   - [JobProcessing]: a runner is about to be invoked
//   - [JobProcessed]: a runner returned
//   - [RecurringMaterialized]: a recurring job spawned an instance
//
// # Server Hooks
//
//   - [ServerStarted], [ServerStopped], [ServerFatal]
//   - [LeadershipChanged]: the local server gained or lost leadership
//
// The [Registry] fans out each event to the registered extensions that
// implement the corresponding hook, in registration order. Hook errors and
// panics are logged and never reach the caller, so a misbehaving extension
// cannot block a state from being saved.
package ext
