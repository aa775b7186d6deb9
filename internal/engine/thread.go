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
	"errors"
	"fmt"

	"github.com/tombee/debugd/internal/log"
	"github.com/tombee/debugd/internal/protocol"
	rt "github.com/tombee/debugd/internal/runtime"
)

// mainThreadID is the identifier of the single runtime thread.
const mainThreadID = 1

type stepMode int

const (
	// modeInto stops at every line.
	modeInto stepMode = iota

	// modeOver stops at the next line at or above a target depth.
	modeOver

	// modeOut stops at the first line shallower than a target depth.
	modeOut

	// modeContinue stops only at breakpoints and watches.
	modeContinue
)

// Thread is the stepping state machine of the traced debuggee. It
// receives the runtime's trace events and decides where to stop; at a
// stop it reports the stack and re-enters the engine's event loop
// until a resume command arrives.
type Thread struct {
	c    *Client
	id   int
	name string

	frame       rt.Frame
	broken      bool
	mode        stepMode
	targetDepth int
	quitting    bool

	// reported marks an exception already sent to the peer, so the
	// run teardown does not repeat it.
	reported bool
}

// newThread starts in single-step mode: a freshly loaded program
// stops at its first line and waits for the peer.
func newThread(c *Client) *Thread {
	return &Thread{c: c, id: mainThreadID, name: "MainThread", mode: modeInto}
}

func (t *Thread) stepInto() {
	t.mode = modeInto
}

func (t *Thread) stepOver() {
	t.mode = modeOver
	t.targetDepth = t.currentDepth()
}

func (t *Thread) stepOut() {
	t.mode = modeOut
	t.targetDepth = t.currentDepth()
}

// resume continues execution. With special set the current stepping
// mode is kept, so stepping state survives a stop at a breakpoint.
func (t *Thread) resume(special bool) {
	if !special {
		t.mode = modeContinue
	}
}

func (t *Thread) currentDepth() int {
	if t.frame == nil {
		return 0
	}
	return t.frame.Depth()
}

func (t *Thread) stopHere(f rt.Frame) bool {
	switch t.mode {
	case modeInto:
		return true
	case modeOver:
		return f.Depth() <= t.targetDepth
	case modeOut:
		return f.Depth() < t.targetDepth
	default:
		return false
	}
}

// breakHere checks breakpoints then watches. Temporary entries are
// cleared on their hit and the peer is told so its margin markers
// stay honest.
func (t *Thread) breakHere(f rt.Frame) bool {
	if t.c.reg.HasBreaks(f.Filename()) {
		if bp, hit := t.c.reg.EffectiveBreak(f.Filename(), f.Line(), f); hit {
			if bp.Temporary {
				t.c.reg.ClearBreak(bp.File, bp.Line)
				t.c.sendReply(protocol.ResponseClearBreak, protocol.ClearBreakReply{
					Filename: bp.File,
					Line:     bp.Line,
				})
			}
			return true
		}
	}
	if t.c.reg.HasWatches() {
		if w, hit := t.c.reg.EffectiveWatch(f); hit {
			if w.Temporary {
				t.c.reg.ClearWatch(w.Condition)
				t.c.sendReply(protocol.ResponseClearWatch, w.Condition)
			}
			return true
		}
	}
	return false
}

// TraceLine implements runtime.Tracer. Every traced line first drains
// queued peer commands, then decides whether to stop.
func (t *Thread) TraceLine(f rt.Frame) error {
	t.c.eventPoll()
	if t.quitting {
		return rt.ErrQuit
	}
	t.frame = f
	if t.stopHere(f) || t.breakHere(f) {
		t.userLine(f)
	}
	if t.quitting {
		return rt.ErrQuit
	}
	return nil
}

// userLine reports the stop and blocks until the peer resumes.
func (t *Thread) userLine(f rt.Frame) {
	t.broken = true
	t.c.log.Debug("stopped",
		log.FileKey, f.Filename(), log.LineKey, f.Line(), log.EventKey, "line")
	t.c.sendReply(protocol.ResponseLine, stackFrom(f))
	t.c.eventLoop()
	t.broken = false
}

// TraceCall implements runtime.Tracer.
func (t *Thread) TraceCall(caller, callee rt.Frame) error {
	if t.quitting {
		return rt.ErrQuit
	}
	t.frame = callee
	if t.c.callTrace {
		t.c.sendReply(protocol.ResponseCallTrace, protocol.CallTraceReply{
			Event: "call",
			From:  location(caller),
			To:    location(callee),
		})
	}
	return nil
}

// TraceReturn implements runtime.Tracer.
func (t *Thread) TraceReturn(f rt.Frame, value any) error {
	if t.quitting {
		return rt.ErrQuit
	}
	if t.c.callTrace {
		t.c.sendReply(protocol.ResponseCallTrace, protocol.CallTraceReply{
			Event: "return",
			From:  location(f),
			To:    location(f.Parent()),
		})
	}
	return nil
}

// TraceException implements runtime.Tracer. The raise site is
// reported as a stop of its own, giving the peer a chance to inspect
// state before unwinding begins.
func (t *Thread) TraceException(f rt.Frame, err error) error {
	if t.quitting {
		return rt.ErrQuit
	}
	if !t.c.exceptions {
		return nil
	}
	var rerr *rt.RuntimeError
	if !errors.As(err, &rerr) {
		return nil
	}
	t.frame = f
	t.reported = true
	t.c.sendReply(protocol.ResponseException, exceptionReply(rerr))
	t.broken = true
	t.c.eventLoop()
	t.broken = false
	if t.quitting {
		return rt.ErrQuit
	}
	return nil
}

func exceptionReply(rerr *rt.RuntimeError) protocol.ExceptionReply {
	reply := protocol.ExceptionReply{Type: rerr.Kind, Message: rerr.Message}
	for _, fs := range rerr.Stack {
		reply.Stack = append(reply.Stack, protocol.StackEntry{
			Filename: fs.Filename,
			Line:     fs.Line,
			Function: fs.Function,
			Args:     fs.Args,
		})
	}
	return reply
}

func location(f rt.Frame) string {
	if f == nil {
		return ""
	}
	fn := f.Function()
	if fn == "" {
		fn = "<module>"
	}
	return fmt.Sprintf("%s:%d:%s", f.Filename(), f.Line(), fn)
}
