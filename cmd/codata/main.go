// Package main is the entry point for codata.
package main

import (
	"os"

	"github.com/zot/codata/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
