package main

import (
	"fmt"
	"os"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
