package main

import "github.com/yz4230/shipyard/cmd"

func main() {
	cmd.Execute()
}
