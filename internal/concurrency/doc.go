// Package concurrency ограничивает число одновременно выполняющихся
// executions одного flow.
//
// Счётчик (domain.ConcurrencyLimit) живёт в общем хранилище под ключом
// concurrency/<tenant>/<namespace>/<flow>. TryAcquire и Release — это
// read-modify-write с условной записью и ограниченным retry.
package concurrency
