// Package postgres provides PostgreSQL implementations of the image and
// analysis job repositories defined in the internal/store package, together
// with the embedded schema migrations they depend on.
//
// Stores accept a store.DBTX so they run against either a pooled *sql.DB
// opened with the pgx stdlib driver or an open *sql.Tx.
package postgres
