package main

import "github.com/ladlehq/ladle/cmd"

func main() {
	cmd.Execute()
}
