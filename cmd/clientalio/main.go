package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/clientalio/internal/app"
)

func main() {
	err := app.Run(app.Streams{In: os.Stdin, Out: os.Stdout, Log: os.Stderr}, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
