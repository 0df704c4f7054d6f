package main

import (
	"github.com/anthill-platform/anthill-market/internal/cli"
)

func main() {
	cli.Execute()
}
