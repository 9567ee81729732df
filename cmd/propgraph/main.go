package main

import "github.com/DrSkyle/propgraph/cmd/propgraph/commands"

func main() {
	commands.Execute()
}
