// Command clinicrew runs the clinical specialist team behind an HTTP gateway,
// a terminal chat client, an MCP server or a one-shot query.
package main

func main() {
	Execute()
}
