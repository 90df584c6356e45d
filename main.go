package main

import "github.com/relaypoint/outreach-engine/cmd"

func main() {
	cmd.Execute()
}
