package redis

import "github.com/xraph/shepherd/job"

// Redis key naming conventions. The braces form a hash tag that pins every
// key to one cluster slot.
const keyPrefix = "{shepherd}:"

// ── Job keys ──

// jobKey returns the key for a job record: {shepherd}:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// stateKey returns the Sorted Set of job IDs in a state, scored by update
// time in microseconds.
func stateKey(state job.StateName) string { return keyPrefix + "state:" + string(state) }

// scheduledKey is the Sorted Set of Scheduled job IDs scored by due time.
const scheduledKey = keyPrefix + "scheduled"

// signatureKey returns the Hash of job ID to state for one signature.
func signatureKey(sig string) string { return keyPrefix + "signature:" + sig }

// ── Recurring job keys ──

// recurringKey returns the key for a recurring job record.
func recurringKey(id string) string { return keyPrefix + "recurring:" + id }

// recurringIDsKey is the Set tracking all recurring job IDs.
const recurringIDsKey = keyPrefix + "recurring_ids"

// ── Cluster keys ──

// serverKey returns the key for a server heartbeat record.
func serverKey(id string) string { return keyPrefix + "server:" + id }

// serverIDsKey is the Set tracking all announced server IDs.
const serverIDsKey = keyPrefix + "server_ids"

// ── Metadata keys ──

// metadataKey returns the Hash of owner to record for one name.
func metadataKey(name string) string { return keyPrefix + "metadata:" + name }
