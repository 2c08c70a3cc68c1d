// ABOUTME: serve command: runs the HTTP/SSE API over the chat engine
// ABOUTME: Prints the startup banner and shuts down on SIGINT/SIGTERM

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/parley/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.http_addr)")
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.HTTPAddr = serveAddr
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	if path == "" {
		fmt.Println("Config:    (defaults)")
	} else {
		fmt.Printf("Config:    %s\n", path)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting parley",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"driver", cfg.Database.Driver,
	)

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(server.Config{
		Addr:   cfg.Server.HTTPAddr,
		Engine: rt.engine,
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return srv.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("waiting for in-flight sends")
		rt.engine.Wait()
		return nil
	})

	return eg.Wait()
}
