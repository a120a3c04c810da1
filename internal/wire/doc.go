// Package wire defines the messages exchanged on a ring link and their
// framing. Each frame is a uvarint length followed by a protobuf-encoded body
// carrying either a clock value or the shutdown marker.
package wire
