package main

import "github.com/lachlan2k/gatehouse/internal/cli"

func main() {
	cli.Execute()
}
