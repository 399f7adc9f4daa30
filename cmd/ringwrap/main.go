package main

import (
	"errors"
	"os"

	"github.com/majorcontext/ringwrap/cmd/ringwrap/cli"
	"github.com/majorcontext/ringwrap/internal/wrap"
)

func main() {
	if err := cli.Execute(); err != nil {
		var exitErr *wrap.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
