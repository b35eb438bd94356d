package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	_ = godotenv.Load()

	app := newApp(defaultConfigPath())
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "jobctl:", err)
		return 1
	}
	return 0
}

// defaultConfigPath names the service config that jobctl shares with the worker.
// Per-command defaults are read from its "jobctl" section.
func defaultConfigPath() string {
	if p := os.Getenv("JOBCTL_CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/worker-service/config.yaml"
}
