package main

import (
	"fmt"
	"os"

	"rental-service/internal/util"
)

func main() {
	if err := util.InitLogger(os.Getenv("ENV")); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
