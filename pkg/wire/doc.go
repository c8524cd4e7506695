// Package wire implements the framed JSON message codec shared by the
// Worker and Master daemons: a JSON array `[type, payload?]` followed by
// a single ASCII EOT (0x04) separator byte, repeated for every message on
// a TCP stream.
package wire
