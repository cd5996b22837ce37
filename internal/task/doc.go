// Package task runs analysis jobs in the background. A bounded TaskQueue
// applies backpressure to submitters, a WorkerPool executes queued tasks
// with panic recovery and an optional deadline, and a TaskRunner ties the
// two together with startup recovery and graceful shutdown.
package task
