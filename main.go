package main

import "qclog/internal/cli"

func main() {
	cli.Execute()
}
