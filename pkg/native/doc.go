// Package native mirrors the SoftDevice GATT server structures, status codes
// and event payloads, together with the packed little-endian layout used to
// move them across a serialization link.
//
// Pointer members of the C structures map to Go pointers or slices; nil is
// NULL. Nothing in this package retains caller memory: decoding always copies.
package native
