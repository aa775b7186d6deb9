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

// Package engine implements the debug client: the protocol state
// machine that connects to the controlling peer, loads and traces
// debuggee programs, and answers introspection commands.
//
// The engine is single threaded. One reader goroutine feeds complete
// lines into a channel; the engine goroutine is the only consumer.
// When the debuggee stops at a breakpoint the engine re-enters the
// same receive loop from inside the trace callback, so command
// handling while stopped nests naturally without locks.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/debugd/internal/asyncio"
	"github.com/tombee/debugd/internal/breakpoint"
	"github.com/tombee/debugd/internal/config"
	"github.com/tombee/debugd/internal/log"
	"github.com/tombee/debugd/internal/protocol"
	rt "github.com/tombee/debugd/internal/runtime"
)

// Version identifies the engine on the wire.
const Version = "1.0.0"

// pollInterval throttles command polling from the line trace callback.
const pollInterval = 500 * time.Millisecond

// Client is one debug session: a single peer connection driving a
// single debuggee runtime.
type Client struct {
	cfg       *config.Config
	log       *slog.Logger
	interp    rt.Interp
	newInterp func() rt.Interp

	conn      *asyncio.Conn
	lines     chan string
	closeOnce sync.Once
	limiter   *rate.Limiter

	reg      *breakpoint.Registry
	thread   *Thread
	handlers map[string]func(arg string)
	patterns map[int]*regexp.Regexp

	sessionID string
	pending   string
	stmtBuf   []string

	// rawMode marks a program blocked on raw input; the next
	// non-command line answers it instead of the statement path.
	rawMode bool
	rawLine string

	exceptions bool
	callTrace  bool
	passive    bool
	quitting   bool
	eventExit  bool

	forkAuto   bool
	forkChild  bool
	forkChoice chan string

	utRunner utRunner
	mainFile string
}

// New creates an engine. The factory is invoked once per program load
// so every run starts from a fresh namespace.
func New(cfg *config.Config, logger *slog.Logger, factory func() rt.Interp) *Client {
	c := &Client{
		cfg:        cfg,
		log:        logger,
		newInterp:  factory,
		interp:     factory(),
		limiter:    rate.NewLimiter(rate.Every(pollInterval), 1),
		reg:        breakpoint.NewRegistry(),
		patterns:   make(map[int]*regexp.Regexp),
		sessionID:  uuid.New().String(),
		pending:    protocol.ResponseOK,
		exceptions: cfg.Run.ReportExceptions,
		forkChild:  cfg.Run.FollowChild,
		forkChoice: make(chan string, 1),
	}
	c.conn = asyncio.New(c)
	c.handlers = c.buildHandlers()
	return c
}

func (c *Client) buildHandlers() map[string]func(arg string) {
	return map[string]func(arg string){
		protocol.RequestVariables:    c.cmdVariables,
		protocol.RequestVariable:     c.cmdVariable,
		protocol.RequestThreadList:   c.cmdThreadList,
		protocol.RequestThreadSet:    c.cmdThreadSet,
		protocol.RequestStep:         c.cmdStep,
		protocol.RequestStepOver:     c.cmdStepOver,
		protocol.RequestStepOut:      c.cmdStepOut,
		protocol.RequestStepQuit:     c.cmdStepQuit,
		protocol.RequestContinue:     c.cmdContinue,
		protocol.RequestOK:           c.cmdPending,
		protocol.RequestCallTrace:    c.cmdCallTrace,
		protocol.RequestEnvironment:  c.cmdEnvironment,
		protocol.RequestLoad:         c.cmdLoad,
		protocol.RequestRun:          c.cmdRun,
		protocol.RequestCoverage:     c.cmdCoverage,
		protocol.RequestProfile:      c.cmdProfile,
		protocol.RequestShutdown:     c.cmdShutdown,
		protocol.RequestBreak:        c.cmdBreak,
		protocol.RequestBreakEnable:  c.cmdBreakEnable,
		protocol.RequestBreakIgnore:  c.cmdBreakIgnore,
		protocol.RequestWatch:        c.cmdWatch,
		protocol.RequestWatchEnable:  c.cmdWatchEnable,
		protocol.RequestWatchIgnore:  c.cmdWatchIgnore,
		protocol.RequestEval:         c.cmdEval,
		protocol.RequestExec:         c.cmdExec,
		protocol.RequestBanner:       c.cmdBanner,
		protocol.RequestCapabilities: c.cmdCapabilities,
		protocol.RequestCompletion:   c.cmdCompletion,
		protocol.RequestSetFilter:    c.cmdSetFilter,
		protocol.RequestUTPrepare:    c.cmdUTPrepare,
		protocol.RequestUTRun:        c.cmdUTRun,
		protocol.RequestUTStop:       c.cmdUTStop,
		protocol.RequestForkTo:       c.cmdForkTo,
		protocol.RequestForkMode:     c.cmdForkMode,
	}
}

// Serve binds the peer connection and processes commands until the
// peer disconnects or a shutdown command arrives.
func (c *Client) Serve(conn net.Conn) error {
	c.attach(conn, conn)
	for line := range c.lines {
		c.handleLine(line)
		if c.quitting {
			break
		}
	}
	c.sessionClose()
	return nil
}

// ServePassive runs a program immediately and serves the debug
// session around it: the peer is told about the passive start, the
// program runs under trace, and the session ends when it does.
func (c *Client) ServePassive(conn net.Conn, filename string, args []string) error {
	c.passive = true
	c.attach(conn, conn)
	c.sendReply(protocol.PassiveStartup, protocol.PassiveStartupReply{
		Filename:   filename,
		Exceptions: c.exceptions,
	})
	c.execute(protocol.LoadRequest{Filename: filename, Args: args}, modeDebug)
	c.sessionClose()
	return nil
}

// attach wires a duplex stream; exported via Serve and tests.
func (c *Client) attach(r io.Reader, w io.Writer) {
	c.conn.SetDescriptors(r, w)
	c.lines = make(chan string, 64)
	c.closeOnce = sync.Once{}
	go c.readLoop()
}

func (c *Client) readLoop() {
	for {
		if err := c.conn.ReadReady(); err != nil {
			return
		}
	}
}

// HandleLine implements asyncio.Handler; it runs on the reader
// goroutine and only enqueues.
func (c *Client) HandleLine(line string) {
	c.lines <- line
}

// SessionClose implements asyncio.Handler.
func (c *Client) SessionClose() {
	c.closeOnce.Do(func() { close(c.lines) })
}

func (c *Client) sessionClose() {
	if c.thread != nil {
		c.thread.quitting = true
	}
	c.interp.SetHooks(nil)
	c.conn.Disconnect()
}

// handleLine dispatches one wire line. Anything that is not a known
// command is console input for the statement path.
func (c *Client) handleLine(line string) {
	c.log.Debug("line received", log.CommandKey, firstWord(line))
	cmd, err := protocol.ParseCommand(line)
	if err == nil {
		if h, ok := c.handlers[cmd.Keyword]; ok {
			h(cmd.Arg)
			return
		}
	}
	if c.rawMode {
		c.rawLine = line
		c.rawMode = false
		return
	}
	c.handleStatement(line)
}

func firstWord(line string) string {
	if i := strings.IndexByte(line, '<'); i > 0 && line[0] == '>' {
		return line[:i+1]
	}
	if len(line) > 24 {
		return line[:24]
	}
	return line
}

// eventLoop processes commands while the debuggee is stopped. It is
// re-entered from trace callbacks; a resume command ends exactly one
// nesting level.
func (c *Client) eventLoop() {
	c.eventExit = false
	for !c.eventExit {
		line, ok := <-c.lines
		if !ok {
			c.quitting = true
			if c.thread != nil {
				c.thread.quitting = true
			}
			return
		}
		c.handleLine(line)
	}
	c.eventExit = false
}

// eventPoll drains queued commands without blocking, rate limited so
// a tight debuggee loop is not slowed by channel polling.
func (c *Client) eventPoll() {
	if !c.limiter.Allow() {
		return
	}
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				c.quitting = true
				if c.thread != nil {
					c.thread.quitting = true
				}
				return
			}
			c.handleLine(line)
		default:
			return
		}
	}
}

// sendReply marshals and writes one reply line.
func (c *Client) sendReply(keyword string, payload any) {
	line, err := protocol.Reply(keyword, payload)
	if err != nil {
		c.log.Error("failed to marshal reply", log.CommandKey, keyword, log.Error(err))
		return
	}
	c.sendLine(line)
}

func (c *Client) sendLine(line string) {
	c.conn.Write(line + "\n")
	if err := c.conn.WriteReady(); err != nil {
		c.log.Error("failed to write to peer", log.Error(err))
	}
}

// writeRaw sends program output or traceback text verbatim.
func (c *Client) writeRaw(text string) {
	c.conn.Write(text)
	if err := c.conn.WriteReady(); err != nil {
		c.log.Error("failed to write to peer", log.Error(err))
	}
}

// emitPending writes the pending response slot and rearms it with OK.
func (c *Client) emitPending() {
	c.sendLine(c.pending)
	c.pending = protocol.ResponseOK
}

// handleStatement feeds one console line into the incremental
// compiler. Multi-line constructs accumulate across calls until the
// compiler stops reporting incompleteness.
func (c *Client) handleStatement(line string) {
	c.stmtBuf = append(c.stmtBuf, line)
	src := strings.Join(c.stmtBuf, "\n")

	code, err := c.interp.CompileStatement(src)
	switch {
	case errors.Is(err, rt.ErrIncomplete):
		c.pending = protocol.ResponseContinue

	case err != nil:
		c.stmtBuf = nil
		var serr *rt.SyntaxError
		if errors.As(err, &serr) {
			c.sendReply(protocol.ResponseSyntax, protocol.SyntaxReply{
				Message:  serr.Message,
				Filename: serr.Filename,
				Line:     serr.Line,
				Column:   serr.Column,
			})
		} else {
			c.writeRaw(formatTraceback(err))
			c.pending = protocol.ResponseException
		}

	default:
		c.stmtBuf = nil
		if err := c.interp.ExecCode(code, c.currentFrame()); err != nil {
			var exit *rt.ExitError
			if errors.As(err, &exit) {
				c.sendReply(protocol.ResponseExit, protocol.ExitReply{Status: exit.Status})
			} else {
				c.writeRaw(formatTraceback(err))
				c.pending = protocol.ResponseException
			}
		}
	}
	c.emitPending()
}

// currentFrame is the selected stop frame, nil when running or idle.
func (c *Client) currentFrame() rt.Frame {
	if c.thread == nil || !c.thread.broken {
		return nil
	}
	return c.thread.frame
}

// frameAt walks outward from the stop frame; 0 is innermost. Walking
// past the top yields the outermost frame, not an error.
func (c *Client) frameAt(n int) rt.Frame {
	f := c.currentFrame()
	for i := 0; i < n && f != nil; i++ {
		p := f.Parent()
		if p == nil {
			break
		}
		f = p
	}
	return f
}

func (c *Client) namespace(f rt.Frame, scope int) map[string]any {
	if f == nil {
		return c.interp.Globals()
	}
	if scope == protocol.ScopeGlobal {
		return f.Globals()
	}
	return f.Locals()
}

// stackFrom renders the call stack, innermost first.
func stackFrom(f rt.Frame) []protocol.StackEntry {
	var stack []protocol.StackEntry
	for ; f != nil; f = f.Parent() {
		stack = append(stack, protocol.StackEntry{
			Filename: f.Filename(),
			Line:     f.Line(),
			Function: f.Function(),
			Args:     f.ArgsString(),
		})
	}
	return stack
}

// formatTraceback renders an error the way the console shows it,
// innermost frame last.
func formatTraceback(err error) string {
	var rerr *rt.RuntimeError
	if !errors.As(err, &rerr) {
		return fmt.Sprintf("Error: %v\n", err)
	}
	var b strings.Builder
	b.WriteString("Traceback (innermost last):\n")
	for i := len(rerr.Stack) - 1; i >= 0; i-- {
		fs := rerr.Stack[i]
		fn := fs.Function
		if fn == "" {
			fn = "<module>"
		}
		fmt.Fprintf(&b, "  File %q, line %d, in %s\n", fs.Filename, fs.Line, fn)
	}
	fmt.Fprintf(&b, "%s: %s\n", rerr.Kind, rerr.Message)
	return b.String()
}

// connWriter adapts the transport for debuggee output redirection.
type connWriter struct {
	c *Client
}

func (w connWriter) Write(p []byte) (int, error) {
	w.c.writeRaw(string(p))
	return len(p), nil
}

// Hostname for the banner, best effort.
func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
