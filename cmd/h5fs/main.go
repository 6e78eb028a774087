package main

import (
	"fmt"
	"os"

	"github.com/marmos91/h5fs/internal/cli"
)

func main() {
	if err := cli.GetRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
