/*
Package storage provides the envelope journal, a BoltDB file recording
every envelope the garbage collector retires.

The journal is write-only from the running bus: it exists for offline
diagnosis of delivery failures (kros journal failures) and is never read
back to restore state. Writes go through an AsyncJournal so collection
never waits on disk.

	store, err := storage.NewBoltStore(dataDir) // opens <dataDir>/kros.db
	journal := storage.NewAsyncJournal(store, 256)
	journal.Start()
	defer journal.Stop()

The database has one bucket, "collections", keyed by envelope id with
JSON-encoded Record values.
*/
package storage
