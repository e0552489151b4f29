// Command fixturectl drives the RS-232 sites of a test fixture from the
// shell: list ports, send commands, run configured actions and watch site
// events.
package main

func main() {
	Execute()
}
