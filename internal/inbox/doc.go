// Package inbox provides the node's inbound message queue. Receiver tasks
// push concurrently; the tick loop is the only consumer.
package inbox
