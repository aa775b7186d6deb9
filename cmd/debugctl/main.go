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

// debugctl is a minimal debug server console for exercising an engine
// by hand: it listens for one engine connection and translates typed
// commands into protocol lines.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/debugd/internal/protocol"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:           "debugctl",
		Short:         "Interactive console acting as the debug server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", ":42424", "Address to listen on for the engine")
	return cmd
}

func serve(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()
	fmt.Printf("listening on %s, waiting for engine...\n", listen)

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("failed to accept: %w", err)
	}
	defer conn.Close()
	fmt.Printf("engine connected from %s\n", conn.RemoteAddr())

	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				fmt.Print("< " + line)
			}
			if err != nil {
				fmt.Println("engine disconnected")
				os.Exit(0)
			}
		}
	}()

	console := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !console.Scan() {
			return nil
		}
		line, quit := translate(console.Text())
		if line != "" {
			if _, err := fmt.Fprintln(conn, line); err != nil {
				return fmt.Errorf("failed to write to engine: %w", err)
			}
		}
		if quit {
			return nil
		}
	}
}

// translate maps console shorthand to protocol lines. Unrecognized
// input is sent verbatim, so raw markers and interactive statements
// still work.
func translate(input string) (line string, quit bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", false
	}

	reply := func(keyword string, payload any) string {
		l, err := protocol.Reply(keyword, payload)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot encode command:", err)
			return ""
		}
		return l
	}

	switch fields[0] {
	case "load", "run", "coverage", "profile":
		if len(fields) < 2 {
			fmt.Println("usage:", fields[0], "<file> [args...]")
			return "", false
		}
		keyword := map[string]string{
			"load":     protocol.RequestLoad,
			"run":      protocol.RequestRun,
			"coverage": protocol.RequestCoverage,
			"profile":  protocol.RequestProfile,
		}[fields[0]]
		return reply(keyword, protocol.LoadRequest{
			Filename: fields[1],
			Args:     fields[2:],
		}), false

	case "break":
		if len(fields) < 2 {
			fmt.Println("usage: break <file>:<line> [condition]")
			return "", false
		}
		file, lineStr, ok := strings.Cut(fields[1], ":")
		if !ok {
			fmt.Println("usage: break <file>:<line> [condition]")
			return "", false
		}
		n, err := strconv.Atoi(lineStr)
		if err != nil {
			fmt.Println("bad line number:", lineStr)
			return "", false
		}
		return reply(protocol.RequestBreak, protocol.BreakRequest{
			Filename:  file,
			Line:      n,
			Set:       true,
			Condition: strings.Join(fields[2:], " "),
		}), false

	case "step":
		return reply(protocol.RequestStep, nil), false
	case "next":
		return reply(protocol.RequestStepOver, nil), false
	case "out":
		return reply(protocol.RequestStepOut, nil), false
	case "cont", "c":
		return reply(protocol.RequestContinue, nil), false
	case "stack":
		return reply(protocol.RequestThreadList, nil), false
	case "vars":
		return reply(protocol.RequestVariables, protocol.VariablesRequest{}), false
	case "eval":
		return reply(protocol.RequestEval, strings.Join(fields[1:], " ")), false
	case "banner":
		return reply(protocol.RequestBanner, nil), false
	case "quit":
		return reply(protocol.RequestShutdown, nil), true
	default:
		return input, false
	}
}
