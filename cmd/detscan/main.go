package main

import "github.com/MeKo-Tech/detscan/cmd/detscan/cmd"

func main() {
	cmd.Execute()
}
