// Package journal reads the event journal that buffers form submissions.
//
// The journal is an append-only, position-addressed log with bounded
// retention. Client fetches one page at a time; Drain follows positions
// until a page comes back empty or a page cap is reached.
//
// Positions are opaque. The consumer never compares them, it only hands the
// last one it saw back to the journal as "since".
package journal
