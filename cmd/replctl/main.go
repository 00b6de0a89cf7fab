// Command replctl is an operator CLI for inspecting a running repld daemon.
package main

import "github.com/dantte-lp/repld/cmd/replctl/commands"

func main() {
	commands.Execute()
}
