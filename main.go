package main

import "orderflow/cmd"

func main() {
	cmd.Run()
}
