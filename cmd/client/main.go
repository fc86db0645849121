package main

import "talekeeper/cmd/client/cmd"

func main() {
	cmd.Execute()
}
