// Package sheet models the tabular sheet documents that form submissions are
// merged into, and implements the merge itself.
//
// A document is stored as JSON in one of two shapes:
//
//   - single-sheet: one flat record sequence at the top level
//     ({"total":..,"limit":..,"offset":..,"data":[..]})
//   - multi-sheet: a named collection of sequences listed under ":names"
//
// Either shape may carry a ":private" namespace holding hidden named
// sequences (e.g. "private-data") with their own counters.
//
// # Header Row
//
// Row 0 of a sequence defines its column set and column order. Append keeps
// that invariant under column growth: new columns are added to the end of the
// header, existing columns never move, and rows written earlier are not
// backfilled. A header whose values are all empty strings is a placeholder:
// the first real record replaces it.
//
// Record key order is significant and survives a decode/encode round trip.
// Decoding reads objects in document order with gjson; encoding writes them
// back in the same order with easyjson's jwriter.
//
// Append is pure. It never mutates the document it is given; callers thread
// the returned document into the next call.
package sheet
