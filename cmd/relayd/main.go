package main

import "github.com/nfrund/relay/cmd/relayd/cmd"

func main() {
	cmd.Execute()
}
