// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for embedded and edge
// deployments, CLI tools, and single-host clusters sharing one database file.
//
//	s, err := sqlite.Open("shepherd.db")
//	if err != nil { ... }
//	defer s.Close()
//	err = s.Migrate(ctx)
//
// Timestamps are stored as Unix nanoseconds so ordering is exact.
package sqlite
