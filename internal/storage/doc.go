// Package storage is the engine's durable layer.
//
// It has two halves:
//   - DocStore: whole-document JSON state (campaign progress, daily stats)
//     with atomic writes, read retries and a quarantine path for corrupt data.
//   - Store: an append-only log of per-message dispatch outcomes, with
//     "file" (JSONL) and "sqlite" drivers.
package storage
