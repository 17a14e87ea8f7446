// Package dispatch turns an accepted push into exactly one queued build job.
//
// The dispatcher does no cloning or building itself. It checks the requested
// build type against the fixed strategy registry, then hands a job
// descriptor to the queue and returns its id. Build workers pick the job up
// later (see package worker).
//
// Error handling:
//   - Unknown build type → ErrUnknownBuildType, nothing enqueued
//   - Queue write failure → ErrQueueUnavailable wrapping the cause
//
// No retries: a failed dispatch is reported to the webhook caller, which
// maps it to HTTP 500.
package dispatch
