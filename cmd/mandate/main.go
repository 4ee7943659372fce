package main

import "github.com/ppiankov/mandate/internal/cli"

func main() {
	cli.Execute()
}
