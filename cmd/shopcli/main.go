package main

import "github.com/mcoot/creditshop-go/internal/cli"

func main() {
	cli.Execute()
}
