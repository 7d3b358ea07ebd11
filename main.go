package main

import "github.com/BioHazard786/callrelay/cmd"

func main() {
	cmd.Execute()
}
