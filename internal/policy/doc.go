// Package policy decides what a node does on a tick when its inbox is
// empty: send its clock to one or both neighbours, or perform an internal
// event.
package policy
