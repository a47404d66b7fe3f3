// Command kurz is the CLI for the kurz video generator. It creates
// runs, processes them with an embedded engine, and inspects their
// state in the shared SQLite store.
package main
