// Package dispatch drives one image transfer through the remote pusher
// workflow: resolve the workflow, snapshot its latest run number, fire a
// workflow_dispatch event, locate the run the event produced and poll it
// until it completes.
//
// Runs are correlated by a strictly greater run number than the snapshot and
// by the request's distinct id appearing in the run name. Every call is bounded
// by a timeout; all waiting honors context cancellation.
package dispatch
