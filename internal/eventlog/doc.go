// Package eventlog records one row per node tick for later verification.
//
// Two backends are provided: one CSV file per node identity, laid out as
// pid_<id>_clockrate_<rate>.csv with a fixed header row, and a SQLite
// database holding every identity in one table. Opening a sink for an
// identity always discards what was previously recorded for it.
package eventlog
