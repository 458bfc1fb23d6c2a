// Command cuectl drives a cuetrack server from the terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cuectl: %v\n", err)
		os.Exit(1)
	}
}
