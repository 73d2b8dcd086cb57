package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hitoshi/cloudstore/internal/app"
)

func main() {
	if err := app.Run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cloudstore: %v\n", err)
		os.Exit(1)
	}
}
