// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the settings of the HTTP server, the database, the
// analysis workers, blob storage, the job cache and the detector, keeping
// configuration details separate from business logic.
package config
