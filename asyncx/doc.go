// Package asyncx tracks the lifecycle of background tasks and, optionally,
// runs them through asynq.
//
// A task is inserted as processing and moves exactly once to completed or
// failed. Every Store implementation enforces that transition atomically, so
// callers may race terminal writes without corrupting a record.
//
// Quick start:
//  1. Pick a Store: NewMemoryStore, NewSQLStore (sqlite/postgres) or NewRedisStore.
//  2. Insert the task with InsertCreated before handing it to a worker.
//  3. Either run work in-process and call MarkCompleted/MarkFailed, or enqueue
//     through Client and let Processor record the outcome.
package asyncx
