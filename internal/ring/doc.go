// Package ring describes the fixed ring topology: node k accepts a link from
// node k-1 and dials node k+1, indices taken modulo the ring size.
package ring
