package main

import "ragkb/internal/cli"

func main() {
	cli.Execute()
}
