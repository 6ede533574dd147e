package main

import "github.com/bryan-buckman/feedwatch/cmd"

func main() {
	cmd.Execute()
}
