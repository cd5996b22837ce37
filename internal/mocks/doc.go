// Package mocks provides centralized mock implementations for testing.
//
// Each mock pairs optional function fields, which override a single method,
// with a small in-memory default so that tests can exercise a full flow
// without wiring a database or object store:
//
//	images := mocks.NewMockImageStore()
//	jobs := mocks.NewMockJobStore()
//	jobs.UpdateJobTerminalFn = func(ctx context.Context, u store.TerminalUpdate) error {
//	    return errors.New("database unavailable")
//	}
//
// The defaults are safe for concurrent use since the dispatcher's workers
// call them from several goroutines.
package mocks
