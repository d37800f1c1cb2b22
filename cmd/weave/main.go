// Command weave validates, compiles and runs workflow graphs, and hosts
// executors and the HTTP API.
package main

func main() {
	Execute()
}
