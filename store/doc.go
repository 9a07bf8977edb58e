// Package store persists orchestration records.
//
// SQLite is the durable sink (pure-Go driver, no cgo); Memory keeps records in
// process for tests and ephemeral servers. Both implement core.Recorder and
// core.HistoryReader. Tee fans a record out to several sinks.
package store
