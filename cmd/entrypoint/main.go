package main

import (
	"log"
	"os"

	"autofilter/launcher"
)

// A tiny entrypoint that ensures sane env defaults and then execs the main binary.
func main() {
	plan, err := launcher.Resolve(os.LookupEnv, os.Environ())
	if err != nil {
		log.Fatalf("invalid launch environment: %v", err)
	}

	if err := launcher.Run(plan); err != nil {
		log.Fatalf("failed to launch %s: %v", plan.Binary, err)
	}
}
