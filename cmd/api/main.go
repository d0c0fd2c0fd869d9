package main

import (
	"context"
	"fmt"
	"os"

	"github.com/abduss/tusdrive/internal/cmd"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := cmd.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "tusdrive:", err)
		os.Exit(1)
	}
}
