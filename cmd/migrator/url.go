package main

import "net/url"

// databaseURL rewrites a postgres:// URL to the pgx5:// scheme the migrate
// driver registers and sets the migrations table.
func databaseURL(dsn, migrationsTable string) string {
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return dsn
	}
	u.Scheme = "pgx5"

	q := u.Query()
	if migrationsTable != "" {
		q.Set("x-migrations-table", migrationsTable)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
