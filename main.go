package main

import "github.com/kamusis/fourgrep/cmd"

func main() {
	cmd.Execute()
}
