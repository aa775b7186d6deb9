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

// Package hostio carries the host interaction points a debuggee
// program reaches through: interactive input, process forking, and
// descriptor management. The debug engine installs its own hooks for a
// session so that input requests travel to the peer and fork points
// honour the negotiated follow policy, then restores the defaults when
// the session closes.
package hostio

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// Branch identifies which side of a fork the caller continues on.
type Branch int

const (
	// Parent continues in the original process.
	Parent Branch = iota

	// Child continues in the forked process.
	Child
)

// Hooks is the host interaction surface offered to a running program.
type Hooks interface {
	// RawInput requests one line of text from the user. When echo is
	// false the input must not be displayed while typed.
	RawInput(prompt string, echo bool) (string, error)

	// Input requests a line and evaluates it as an expression,
	// falling back to the raw text when evaluation fails.
	Input(prompt string) (any, error)

	// Fork splits the process and reports which branch the caller is
	// on. Implementations that cannot fork report Parent.
	Fork() (Branch, error)

	// Close closes a host file descriptor.
	Close(fd int) error

	// SetRecursionLimit adjusts the call depth limit of the host
	// runtime, if it has one.
	SetRecursionLimit(limit int)
}

// Default returns the hooks used outside a debug session: input from
// the process's standard streams and no fork support.
func Default() Hooks {
	return &stdHooks{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

type stdHooks struct {
	in  *bufio.Reader
	out *os.File
}

func (h *stdHooks) RawInput(prompt string, echo bool) (string, error) {
	fmt.Fprint(h.out, prompt)
	line, err := h.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (h *stdHooks) Input(prompt string) (any, error) {
	return h.RawInput(prompt, true)
}

func (h *stdHooks) Fork() (Branch, error) {
	return Parent, nil
}

func (h *stdHooks) Close(fd int) error {
	if err := syscall.Close(fd); err != nil {
		return fmt.Errorf("failed to close descriptor %d: %w", fd, err)
	}
	return nil
}

func (h *stdHooks) SetRecursionLimit(limit int) {}
