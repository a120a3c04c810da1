// Package link implements the persistent point-to-point connections between
// neighbouring ring nodes. A node owns one server link, accepted from its
// predecessor, and one client link, dialed to its successor. There is no
// retry or reconnection: any connection failure is fatal to the experiment.
package link
