package main

import "github.com/LeJamon/rcld/internal/cli"

func main() {
	cli.Execute()
}
