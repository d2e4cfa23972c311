package main

import "github.com/annchain/dagconsensus/app/cmd"

func main() {
	cmd.Execute()
}
