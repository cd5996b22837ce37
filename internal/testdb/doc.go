// Package testdb provides utilities for database integration tests.
//
// Tests run against the database named by IMAGELAB_TEST_DATABASE_URL (or
// DATABASE_URL) and are skipped when neither is set. Each test runs in its
// own transaction, which is rolled back when the test completes, so tests
// can run in parallel without cleaning up after themselves.
//
//	func TestJobStore(t *testing.T) {
//	    t.Parallel()
//	    db := testdb.GetTestDBWithT(t)
//
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        jobs := postgres.NewPostgresJobStore(tx, nil)
//	        // ...
//	    })
//	}
//
// The schema comes from the migrations embedded in the postgres package and
// is applied once per test binary.
package testdb
