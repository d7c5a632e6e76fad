package main

import "loudfits/cmd/cli/command"

func main() {
	command.Execute()
}
