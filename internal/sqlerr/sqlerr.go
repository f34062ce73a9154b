// Package sqlerr translates PostgreSQL driver errors into application
// errors. It maps SQLSTATE codes from pgconn into a small taxonomy and
// produces client-facing HTTPErrors with humanized messages.
package sqlerr
