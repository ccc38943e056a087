package main

import "github.com/telemart/telemart/cmd"

func main() {
	cmd.Execute()
}
