// Package cache defines the disk-backed store for resized images. Artifacts
// live at StoragePath/<name> and are written with temp file + rename, so a
// crash never leaves a truncated file at the final path. Writers of the same
// name are serialized in-process by entry locks and across processes by a
// flock file under StoragePath/.locks. An optional SQLite index records size,
// xxh3 checksum and timestamps per artifact so higher layers can expire,
// verify and evict entries.
package cache
