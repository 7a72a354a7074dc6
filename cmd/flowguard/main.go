// flowguard — runtime trust enforcement for AI agent tool calls.
package main

import "github.com/ppiankov/flowguard/internal/cli"

func main() {
	cli.Execute()
}
