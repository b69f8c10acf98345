// Command questforge serves the campaign generator over HTTP and MCP and
// manages stored campaign threads.
package main

func main() {
	Execute()
}
