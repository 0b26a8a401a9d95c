package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pders01/crossread/internal/debuglog"
)

// Version is the version of the application, set at build time
var Version = "dev"

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	_ = debuglog.Close()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
