// Package source exposes the read-only store of original images. Each asset
// is addressed by its base name (no extension); the store lists the names it
// can serve and opens the JPEG bytes behind a name. Two backends exist: a
// local directory and an S3-compatible bucket. Nothing in this package writes
// to the store.
package source
