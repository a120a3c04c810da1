// Package barrier provides the readiness barrier nodes pass before dialing
// their successor: every node announces it is listening, then waits until all
// nodes have done so.
//
// Local serves nodes of a single process. Health serves nodes in separate
// processes: each node exposes the standard gRPC health service on its admin
// address and polls its peers' health until they all report SERVING.
package barrier
