// Package storage keeps the publication journal.
//
// The journal is append-only: operator actions (reload, pause, purge, ...) and
// delivery outcomes. It is informational and never read back to rebuild a plan.
package storage
