// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/debugd/internal/config"
	"github.com/tombee/debugd/internal/engine"
	"github.com/tombee/debugd/internal/log"
	rt "github.com/tombee/debugd/internal/runtime"
	"github.com/tombee/debugd/internal/script"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// passiveConnectFailure is the exit status when a passive start cannot
// reach the debug server. The front end recognizes it and falls back
// to running the program untraced.
const passiveConnectFailure = 42

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath   string
		host         string
		port         int
		workdir      string
		noExceptions bool
		noRedirect   bool
		noEncoding   bool
		forkChild    bool
		forkParent   bool
		showVersion  bool
	)

	cmd := &cobra.Command{
		Use:   "debugd [flags] [-- program [args...]]",
		Short: "Debug engine for the IDE",
		Long: `debugd connects to a debug server (the IDE) and executes programs
under its control. Started without a program it waits for the server
to send one; started with a program after '--' it runs that program
immediately and reports the passive start to the server.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				cmd.Printf("debugd %s (commit: %s, built: %s)\n", version, commit, buildDate)
				return nil
			}

			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Connect.Host = host
			}
			if port != 0 {
				cfg.Connect.Port = port
			}
			if noExceptions {
				cfg.Run.ReportExceptions = false
			}
			if noRedirect {
				cfg.Connect.Redirect = false
			}
			if noEncoding {
				cfg.Run.HonorCoding = false
			}
			if forkChild {
				cfg.Run.FollowChild = true
			}
			if forkParent {
				cfg.Run.FollowChild = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg, logger, workdir, args)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&host, "host", "", "Debug server host (suffix @@v4 or @@v6 pins the IP family)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Debug server port")
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "Working directory for the program")
	cmd.Flags().BoolVar(&noExceptions, "no-exceptions", false, "Do not stop on unhandled exceptions")
	cmd.Flags().BoolVar(&noRedirect, "no-redirect", false, "Keep program output on the local terminal")
	cmd.Flags().BoolVar(&noEncoding, "no-encoding", false, "Ignore coding declarations in program files")
	cmd.Flags().BoolVar(&forkChild, "fork-child", false, "Follow the child process after a fork")
	cmd.Flags().BoolVar(&forkParent, "fork-parent", false, "Follow the parent process after a fork")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, workdir string, args []string) error {
	client := engine.New(cfg, logger, func() rt.Interp {
		return script.New(script.Config{})
	})
	client.WatchSignals()

	port := cfg.Connect.Port
	if len(args) > 0 && cfg.Passive.Enabled {
		port = cfg.Passive.Port
	}
	conn, err := engine.Dial(ctx, cfg.Connect.Host, port)
	if err != nil {
		if len(args) > 0 {
			logger.Error("passive start failed", log.Error(err))
			os.Exit(passiveConnectFailure)
		}
		return err
	}
	defer conn.Close()

	logger.Info("connected to debug server",
		"host", cfg.Connect.Host, "port", port,
		"passive", len(args) > 0)

	if len(args) > 0 {
		program := args[0]
		if workdir != "" {
			if err := os.Chdir(workdir); err != nil {
				return fmt.Errorf("failed to change working directory: %w", err)
			}
		}
		return client.ServePassive(conn, program, args[1:])
	}
	return client.Serve(conn)
}
