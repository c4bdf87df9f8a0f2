// Package thumbnail implements the resize-and-cache path: request validation,
// deterministic cache keys, and the check-cache / transform / persist flow
// that backs GET /api/images. Concurrent misses for the same variant share a
// single transform.
package thumbnail
