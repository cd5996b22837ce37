// Package events provides types and interfaces for an event-driven architecture.
//
// The analysis dispatcher emits a JobEvent whenever a job reaches a terminal
// state. Handlers such as the result archiver and the job cache subscribe to
// these events without the dispatcher knowing about them.
package events
