// Package job defines the job entity, its state machine, descriptors,
// typed definitions, runners, and the store interface.
//
// # Job Entity
//
// A [Job] is a unit of work with an append-only history of [State] entries.
// The current state is the last entry. Legal moves are:
//
//	SCHEDULED → ENQUEUED → PROCESSING → SUCCEEDED → DELETED
//	                                  → FAILED → SCHEDULED (retry)
//	                                           → DELETED (exhausted)
//
// Scheduled, Enqueued and Processing jobs may also be deleted by a client.
// Deleted jobs are eventually removed from the store.
//
// Every job carries a Version. Stores only accept a save whose version
// matches the stored one, which is how concurrent servers avoid running a
// job twice.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload becomes the first
// descriptor parameter:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Runners
//
// A [Runner] invokes descriptors it recognizes. [Runners] resolves a
// descriptor to the first capable runner. [Registry] is the runner for
// typed definitions:
//
//	reg := job.NewRegistry()
//	job.RegisterDefinition(reg, SendEmail)
//	runners := job.NewRunners(reg)
package job
