// Package protocol groups the download wire contract.
//
// Ownership boundary:
// - frame: client frame header, CRC-32 and 2D parity verification
// - session: the per-connection menu dialogue driven by verified frames
//
// Client to server traffic is always framed. Server to client traffic is raw
// text with no header.
package protocol
