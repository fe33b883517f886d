// Package fingerprint computes the digests used to correlate files.
//
// A Computer turns raw content into a types.Sample holding:
//
//   - SHA-256 over the raw bytes, the corpus key
//   - MD5 over the raw bytes, for display
//   - one approximate digest per configured Metric, computed over the
//     extracted content (PDF text, DOCX paragraphs, otherwise raw bytes)
//
// Metrics may refuse to produce a digest for small or low-variance input.
// A refusal is not an error: the metric is simply absent from the sample
// and the file is never ranked under it.
//
// # Metrics
//
// Two metrics ship with the package:
//
//   - TLSH (github.com/glaslos/tlsh), a distance where 0 means identical
//   - ssdeep (github.com/glaslos/ssdeep), a similarity in [0, 100]
//
// Both are safe for concurrent use. TLSH keeps an LRU of parsed digests so
// ranking a query against a large corpus does not re-decode every stored
// digest on each request.
//
// # Extraction
//
// Document formats are reduced to their text before approximate hashing so
// that two copies of the same document with different container bytes still
// score as similar. Extraction failures fall back to the raw bytes and are
// logged, never returned.
package fingerprint
