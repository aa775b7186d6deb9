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

package engine

import (
	"io"
	"syscall"

	"github.com/tombee/debugd/internal/hostio"
	"github.com/tombee/debugd/internal/protocol"
)

// peerHooks routes the running program's host interactions through
// the debugger connection. The methods run on the engine goroutine,
// so they read peer answers straight off the line channel instead of
// going through the event loop.
type peerHooks struct {
	c *Client
}

// RawInput asks the peer for a line. Commands arriving while the
// program waits are dispatched as usual; the first non-command line is
// the answer.
func (h *peerHooks) RawInput(prompt string, echo bool) (string, error) {
	c := h.c
	c.sendReply(protocol.ResponseRaw, protocol.RawInputRequest{
		Prompt: prompt,
		Echo:   echo,
	})
	c.rawMode = true
	for c.rawMode {
		line, ok := <-c.lines
		if !ok {
			c.rawMode = false
			return "", io.EOF
		}
		c.handleLine(line)
	}
	return c.rawLine, nil
}

// Input asks for a line and evaluates it as an expression. A line
// that does not evaluate is handed back as plain text.
func (h *peerHooks) Input(prompt string) (any, error) {
	line, err := h.RawInput(prompt, true)
	if err != nil {
		return nil, err
	}
	value, err := h.c.interp.Eval(line, h.c.currentFrame())
	if err != nil {
		return line, nil
	}
	return value, nil
}

// Fork decides which side of a fork keeps the debugger. In auto mode
// the configured side wins; otherwise the peer is asked and command
// handling continues until it answers.
func (h *peerHooks) Fork() (hostio.Branch, error) {
	if h.c.forkAuto {
		if h.c.forkChild {
			return hostio.Child, nil
		}
		return hostio.Parent, nil
	}
	h.c.sendLine(protocol.ResponseForkTo)
	for {
		line, ok := <-h.c.lines
		if !ok {
			return hostio.Parent, io.EOF
		}
		h.c.handleLine(line)
		select {
		case branch := <-h.c.forkChoice:
			if branch == "child" {
				return hostio.Child, nil
			}
			return hostio.Parent, nil
		default:
		}
	}
}

func (h *peerHooks) Close(fd int) error {
	return syscall.Close(fd)
}

func (h *peerHooks) SetRecursionLimit(limit int) {
	h.c.interp.SetMaxDepth(limit)
}
