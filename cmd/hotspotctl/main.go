package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
