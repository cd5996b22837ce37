// Package store defines the persistence contracts of the analysis service:
// the job repository (images and analysis jobs) and the blob store holding
// uploaded bytes. Implementations live under internal/platform.
package store
