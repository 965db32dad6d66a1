package main

import "github.com/tanq16/mydm/cmd"

func main() {
	cmd.Execute()
}
