// Package caretaker runs the periodic maintenance pass of a background job
// server. Each pass onboards Enqueued jobs onto free workers, materializes
// due recurring jobs, promotes due Scheduled jobs, recovers jobs orphaned
// by dead servers, applies retention (leader only) and reconciles the runs
// in flight with the store.
//
// Every task is safe to run on every server at once: correctness across
// servers comes from the version check on each save and the signature
// guard on recurring instances.
package caretaker
