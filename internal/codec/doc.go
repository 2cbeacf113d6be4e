// Package codec implements byte-exact binary wire codecs for the server types
// the data layer depends on:
//
//   - timestamp / timestamptz: int64 microseconds relative to 2000-01-01 UTC,
//     with the two reserved infinity patterns mapped to MaxTime and DefaultTime
//   - numeric: base-10000 digit groups with sign, weight and display scale
//   - blob_ref: a two-field composite (text id, int8 length) describing a blob
//     held by the content-addressed blob store
//
// Each codec is a Codec: a wire type identifier, Encode, Decode and an Accepts
// predicate. Codecs hold no state beyond their type identifier, so a single
// value may be shared by any number of connections. PGX adapts a Codec to
// pgx's pgtype.Codec so that parameters and result columns flow through it.
package codec
