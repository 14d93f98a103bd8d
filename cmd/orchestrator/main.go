// Command orchestrator drives a development task through a configured
// sequence of gated phases, enforcing that review and verification steps
// are completed, skipped with reason, or satisfied by a passing gate
// before the workflow may advance.
package main

func main() {
	Execute()
}
