// Package main is the entry point of ARA, the Agile Regression Analyzer.
package main

import (
	"context"
	"fmt"
	"os"

	"ara/bootstrap"
	"ara/cmd"
	_ "ara/docs"
)

// run initializes and starts the ARA server.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}

func main() {
	// "ara admin ..." runs the offline administration commands
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		adminCmd := cmd.NewAdminCmd()
		adminCmd.SetArgs(os.Args[2:])
		if err := adminCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
