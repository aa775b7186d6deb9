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

//go:build unix

package engine

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/debugd/internal/protocol"
)

// WatchSignals reports fatal signals to the peer before the process
// goes down, so the front end can show where the program was.
func (c *Client) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGABRT, syscall.SIGFPE, syscall.SIGILL, syscall.SIGSEGV)
	go func() {
		for sig := range sigCh {
			c.reportSignal(sig)
		}
	}()
}

func (c *Client) reportSignal(sig os.Signal) {
	reply := protocol.SignalReply{Message: sig.String()}
	if t := c.thread; t != nil && t.frame != nil {
		f := t.frame
		reply.Filename = f.Filename()
		reply.Line = f.Line()
		reply.Function = f.Function()
		reply.Args = f.ArgsString()
	}
	c.sendReply(protocol.ResponseSignal, reply)
}
