// Package main is the entry point for Argus.
package main

import (
	"context"
	"fmt"
	"os"

	"argus/cmd"
)

func main() {
	if err := cmd.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
