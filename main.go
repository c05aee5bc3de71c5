package main

import "PaceShift/cmd"

func main() {
	cmd.Execute()
}
