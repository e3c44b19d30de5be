package main

import "srishti-cli/cmd"

func main() {
	cmd.Execute()
}
