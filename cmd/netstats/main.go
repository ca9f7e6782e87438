package main

import "qubic-netstats/internal/cli"

func main() {
	cli.Execute()
}
