// Command lamportring emulates a ring of processes with Lamport logical
// clocks and logs every tick for later analysis.
package main

func main() {
	Execute()
}
