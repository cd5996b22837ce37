// Package service contains the application use cases: ingesting uploaded
// images and dispatching analysis jobs to the background workers.
//
// Services receive their stores through constructor injection and depend only
// on the interfaces in internal/store, never on a specific backend.
//
// The AnalysisDispatcher owns the job lifecycle. It persists every job in the
// processing state before any background work starts, and a single method
// performs the one terminal write per job. That method also refreshes the job
// cache and emits the job.completed or job.failed event.
//
// Errors follow the usual convention: expected conditions come back as
// sentinels from this package or from store, task and analysis, and callers
// check them with errors.Is. The API layer maps them to HTTP status codes.
package service
