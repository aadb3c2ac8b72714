// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL. Job writes are optimistic: inserts use ON CONFLICT DO NOTHING and
// updates are conditional on the stored version, so concurrent servers never
// overwrite each other. Migrations are embedded SQL files.
package postgres
