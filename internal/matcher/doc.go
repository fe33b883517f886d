// Package matcher ranks corpus entries against a query fingerprint.
//
// Ranking is deterministic: entries are visited in corpus insertion order,
// sorted stably by score, and ties keep that order. Distance metrics rank
// ascending and similarity metrics descending. A similarity of zero is never
// a match and is dropped before truncation, so a short list is never padded
// with zeros. An entry that is byte-identical to the query is ranked like any
// other entry.
//
// The engine holds no state between calls and never returns an error: entries
// that cannot be scored are skipped and counted out of Ranking.Compared.
package matcher
