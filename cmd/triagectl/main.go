// Triagectl is the operator CLI for a running triagem server: review
// statistics, queue listing, validation, CSV export and offline case base
// seeding.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/linnemanlabs/triagem/internal/cli"
)

func main() {
	// same .env as the server; real env vars win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "ignoring unreadable .env: %v\n", err)
	}

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "triagectl:", err)
		os.Exit(1)
	}
}
