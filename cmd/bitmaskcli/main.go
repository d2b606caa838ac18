package main

import (
	"fmt"
	"os"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "[bitmaskcli] %v\n", err)
		os.Exit(1)
	}
}
