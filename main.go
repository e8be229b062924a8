package main

import "github.com/tenkv/tenkv/cmd"

func main() {
	cmd.Execute()
}
