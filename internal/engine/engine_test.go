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
	"bufio"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/debugd/internal/config"
	"github.com/tombee/debugd/internal/protocol"
	rt "github.com/tombee/debugd/internal/runtime"
	"github.com/tombee/debugd/internal/script"
)

// session drives an engine over an in-memory pipe, playing the peer.
type session struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	done chan struct{}
}

func newSession(t *testing.T, cfg *config.Config) *session {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := New(cfg, logger, func() rt.Interp {
		return script.New(script.Config{})
	})

	server, peer := net.Pipe()
	s := &session{
		t:    t,
		conn: peer,
		r:    bufio.NewReader(peer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		client.Serve(server)
	}()
	t.Cleanup(func() {
		peer.Close()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not shut down")
		}
	})
	return s
}

func (s *session) send(keyword string, payload any) {
	s.t.Helper()
	line, err := protocol.Reply(keyword, payload)
	require.NoError(s.t, err)
	s.sendRaw(line)
}

func (s *session) sendRaw(line string) {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	_, err := s.conn.Write([]byte(line + "\n"))
	require.NoError(s.t, err)
}

func (s *session) readLine() string {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := s.r.ReadString('\n')
	require.NoError(s.t, err)
	return strings.TrimSuffix(line, "\n")
}

// await reads lines until one carries the wanted keyword, skipping
// program output and unrelated replies, and returns its payload.
func (s *session) await(keyword string) string {
	s.t.Helper()
	for i := 0; i < 50; i++ {
		line := s.readLine()
		if strings.HasPrefix(line, keyword) {
			return line[len(keyword):]
		}
	}
	s.t.Fatalf("no %s reply after 50 lines", keyword)
	return ""
}

func (s *session) decode(arg string, v any) {
	s.t.Helper()
	require.NoError(s.t, protocol.DecodeArg(arg, v))
}

func writeScript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.dbg")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestBannerAndCapabilities(t *testing.T) {
	s := newSession(t, nil)

	s.send(protocol.RequestBanner, nil)
	var banner protocol.BannerReply
	s.decode(s.await(protocol.ResponseBanner), &banner)
	assert.Equal(t, Version, banner.Version)
	assert.Equal(t, "debugd", banner.Variant)
	assert.NotEmpty(t, banner.SessionID)

	s.send(protocol.RequestCapabilities, nil)
	var caps protocol.CapabilitiesReply
	s.decode(s.await(protocol.ResponseCapabilities), &caps)
	assert.Equal(t, protocol.HasAll, caps.Capabilities)
}

func TestStatementsAndEval(t *testing.T) {
	s := newSession(t, nil)

	s.sendRaw("x = 41")
	assert.Equal(t, protocol.ResponseOK, s.readLine())
	s.sendRaw("x = x + 1")
	assert.Equal(t, protocol.ResponseOK, s.readLine())

	s.send(protocol.RequestEval, "x")
	assert.Equal(t, "42", s.readLine())
	assert.Equal(t, protocol.ResponseOK, s.readLine())
}

func TestStatementContinuation(t *testing.T) {
	s := newSession(t, nil)

	s.sendRaw("if 1 > 0")
	assert.Equal(t, protocol.ResponseContinue, s.readLine())
	s.sendRaw("y = 2")
	assert.Equal(t, protocol.ResponseContinue, s.readLine())
	s.sendRaw("end")
	assert.Equal(t, protocol.ResponseOK, s.readLine())

	s.send(protocol.RequestEval, "y")
	assert.Equal(t, "2", s.readLine())
	assert.Equal(t, protocol.ResponseOK, s.readLine())
}

func TestStatementSyntaxError(t *testing.T) {
	s := newSession(t, nil)

	s.sendRaw("else")
	var serr protocol.SyntaxReply
	s.decode(s.await(protocol.ResponseSyntax), &serr)
	assert.NotEmpty(t, serr.Message)
	// The pending slot still answers, rearmed with OK.
	assert.Equal(t, protocol.ResponseOK, s.readLine())
}

func TestEvalErrorSendsExceptionMarker(t *testing.T) {
	s := newSession(t, nil)

	s.send(protocol.RequestEval, "nosuchname + 1")
	line := s.await(protocol.ResponseException)
	assert.Empty(t, line)
}

func TestEvalDivisionErrorLeavesPendingSlot(t *testing.T) {
	s := newSession(t, nil)

	s.sendRaw("x = 1")
	require.Equal(t, protocol.ResponseOK, s.readLine())

	s.send(protocol.RequestEval, "x / 0")
	var output []string
	for i := 0; i < 10; i++ {
		line := s.readLine()
		if line == protocol.ResponseException {
			break
		}
		output = append(output, line)
	}
	assert.Contains(t, strings.Join(output, "\n"), "ZeroDivisionError")

	// Eval reports inline; the poll slot still answers OK.
	s.send(protocol.RequestOK, nil)
	assert.Equal(t, protocol.ResponseOK, s.readLine())
}

func TestLoadStopsAtFirstLine(t *testing.T) {
	path := writeScript(t,
		"a = 1",
		"b = a + 1",
		"print(b)",
	)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	var stack []protocol.StackEntry
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.NotEmpty(t, stack)
	assert.Equal(t, path, stack[0].Filename)
	assert.Equal(t, 1, stack[0].Line)

	s.send(protocol.RequestContinue, map[string]bool{"special": false})
	var exit protocol.ExitReply
	s.decode(s.await(protocol.ResponseExit), &exit)
	assert.Equal(t, 0, exit.Status)
}

func TestProgramOutputRedirected(t *testing.T) {
	path := writeScript(t, `print("hello")`)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	s.await(protocol.ResponseLine)
	s.send(protocol.RequestContinue, nil)

	assert.Equal(t, "hello", s.readLine())
	var exit protocol.ExitReply
	s.decode(s.await(protocol.ResponseExit), &exit)
	assert.Equal(t, 0, exit.Status)
}

func TestBreakpointStopAndVariables(t *testing.T) {
	path := writeScript(t,
		"x = 1",
		"x = 2",
		"x = 3",
	)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})

	// Initial stop at line 1; breakpoints are sent while stopped,
	// the way the front end does after a load.
	var stack []protocol.StackEntry
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.NotEmpty(t, stack)
	assert.Equal(t, 1, stack[0].Line)

	s.send(protocol.RequestBreak, protocol.BreakRequest{
		Filename: path,
		Line:     2,
		Set:      true,
	})
	s.send(protocol.RequestContinue, nil)
	stack = nil
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.NotEmpty(t, stack)
	assert.Equal(t, 2, stack[0].Line)

	// Line 2 has not run yet.
	s.send(protocol.RequestVariables, protocol.VariablesRequest{
		Frame: 0,
		Scope: protocol.ScopeGlobal,
	})
	var vars protocol.VariablesReply
	s.decode(s.await(protocol.ResponseVariables), &vars)
	found := false
	for _, v := range vars.Variables {
		if v.Name == "x" {
			found = true
			assert.Equal(t, "1", v.Value)
		}
	}
	assert.True(t, found, "x not listed in globals")

	s.send(protocol.RequestStepQuit, nil)
	var exit protocol.ExitReply
	s.decode(s.await(protocol.ResponseExit), &exit)
	assert.Equal(t, 0, exit.Status)
}

func TestRawInputRoutesCommandsFirst(t *testing.T) {
	path := writeScript(t,
		`name = readline("who? ")`,
		"print(name)",
	)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	s.await(protocol.ResponseLine)
	s.send(protocol.RequestContinue, nil)

	var raw protocol.RawInputRequest
	s.decode(s.await(protocol.ResponseRaw), &raw)
	assert.Equal(t, "who? ", raw.Prompt)
	assert.True(t, raw.Echo)

	// A command sent while the program waits for input is dispatched,
	// not consumed as the answer.
	s.send(protocol.RequestBanner, nil)
	s.await(protocol.ResponseBanner)

	s.sendRaw("carol")
	assert.Equal(t, "carol", s.readLine())

	var exit protocol.ExitReply
	s.decode(s.await(protocol.ResponseExit), &exit)
	assert.Equal(t, 0, exit.Status)
}

func TestThreadSetReportsStack(t *testing.T) {
	path := writeScript(t, "a = 1", "b = 2")
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	s.await(protocol.ResponseLine)

	s.send(protocol.RequestThreadSet, map[string]int{"id": 1})
	var info protocol.ThreadInfo
	s.decode(s.await(protocol.ResponseThreadSet), &info)
	assert.Equal(t, 1, info.ID)
	assert.True(t, info.Broken)

	var stack []protocol.StackEntry
	s.decode(s.await(protocol.ResponseStack), &stack)
	require.NotEmpty(t, stack)
	assert.Equal(t, path, stack[0].Filename)
	assert.Equal(t, 1, stack[0].Line)

	s.send(protocol.RequestStepQuit, nil)
	s.await(protocol.ResponseExit)
}

func TestVariableSummaryOnlyOutsideDrillDown(t *testing.T) {
	path := writeScript(t,
		`m = {"a": 1, "b": 2}`,
		"done = 1",
	)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	s.await(protocol.ResponseLine)
	s.send(protocol.RequestStepOver, nil)
	s.await(protocol.ResponseLine)

	// Without a descent suffix the listing ends with the
	// outer-container summary.
	s.send(protocol.RequestVariable, protocol.VariableRequest{
		Path:  []string{"m"},
		Scope: protocol.ScopeGlobal,
	})
	var reply protocol.VariableReply
	s.decode(s.await(protocol.ResponseVariable), &reply)
	require.Len(t, reply.Variables, 3)
	last := reply.Variables[len(reply.Variables)-1]
	assert.Equal(t, "...", last.Name)
	assert.Equal(t, "map", last.Type)
	assert.Equal(t, "2", last.Value)

	// A suffixed final segment is already drilling; no summary then.
	s.send(protocol.RequestVariable, protocol.VariableRequest{
		Path:  []string{"m{}"},
		Scope: protocol.ScopeGlobal,
	})
	reply = protocol.VariableReply{}
	s.decode(s.await(protocol.ResponseVariable), &reply)
	require.Len(t, reply.Variables, 2)
	for _, v := range reply.Variables {
		assert.NotEqual(t, "...", v.Name)
	}

	s.send(protocol.RequestStepQuit, nil)
	s.await(protocol.ResponseExit)
}

func TestWatchChangedStopsRun(t *testing.T) {
	path := writeScript(t,
		"x = 1",
		"x = 2",
		"y = 3",
	)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	var stack []protocol.StackEntry
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.Equal(t, 1, stack[0].Line)

	s.send(protocol.RequestWatch, protocol.WatchRequest{Condition: "x ??changed??", Set: true})
	s.send(protocol.RequestContinue, nil)

	stack = nil
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.NotEmpty(t, stack)
	assert.Equal(t, 3, stack[0].Line)

	s.send(protocol.RequestStepQuit, nil)
	s.await(protocol.ResponseExit)
}

func TestStepOverAdvancesOneLine(t *testing.T) {
	path := writeScript(t,
		"a = 1",
		"b = 2",
		"c = 3",
	)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	var stack []protocol.StackEntry
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.Equal(t, 1, stack[0].Line)

	s.send(protocol.RequestStepOver, nil)
	stack = nil
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.Equal(t, 2, stack[0].Line)

	s.send(protocol.RequestStepOver, nil)
	stack = nil
	s.decode(s.await(protocol.ResponseLine), &stack)
	require.Equal(t, 3, stack[0].Line)

	s.send(protocol.RequestContinue, nil)
	s.await(protocol.ResponseExit)
}

func TestUnhandledErrorReported(t *testing.T) {
	path := writeScript(t, `raise("ValueError", "boom")`)
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	s.await(protocol.ResponseLine)
	s.send(protocol.RequestContinue, nil)

	var exc protocol.ExceptionReply
	s.decode(s.await(protocol.ResponseException), &exc)
	assert.Equal(t, "ValueError", exc.Type)
	assert.Equal(t, "boom", exc.Message)
	require.NotEmpty(t, exc.Stack)
	assert.Equal(t, 1, exc.Stack[0].Line)

	s.send(protocol.RequestContinue, nil)
	var exit protocol.ExitReply
	s.decode(s.await(protocol.ResponseExit), &exit)
	assert.Equal(t, 1, exit.Status)
}

func TestExplicitExitStatus(t *testing.T) {
	path := writeScript(t, "exit(3)")
	s := newSession(t, nil)

	s.send(protocol.RequestLoad, protocol.LoadRequest{Filename: path})
	s.await(protocol.ResponseLine)
	s.send(protocol.RequestContinue, nil)

	var exit protocol.ExitReply
	s.decode(s.await(protocol.ResponseExit), &exit)
	assert.Equal(t, 3, exit.Status)
}

func TestEnvironmentAppend(t *testing.T) {
	t.Setenv("DEBUGD_TEST_PATH", "alpha")
	s := newSession(t, nil)

	s.send(protocol.RequestEnvironment, map[string]string{
		"DEBUGD_TEST_PATH+": ":beta",
		"DEBUGD_TEST_NEW":   "gamma",
	})
	// Banner round trip orders us after the environment update.
	s.send(protocol.RequestBanner, nil)
	s.await(protocol.ResponseBanner)

	assert.Equal(t, "alpha:beta", os.Getenv("DEBUGD_TEST_PATH"))
	assert.Equal(t, "gamma", os.Getenv("DEBUGD_TEST_NEW"))
	os.Unsetenv("DEBUGD_TEST_NEW")
}

func TestUnitTestRun(t *testing.T) {
	path := writeScript(t,
		"def test_pass()",
		"x = 1",
		"end",
		"def test_fail()",
		`raise("AssertionError", "expected 2")`,
		"end",
	)
	s := newSession(t, nil)

	s.send(protocol.RequestUTPrepare, protocol.UTPrepareRequest{Filename: path})
	var prepared protocol.UTPreparedReply
	s.decode(s.await(protocol.ResponseUTPrepared), &prepared)
	require.Empty(t, prepared.Error)
	require.Equal(t, 2, prepared.Count)

	s.send(protocol.RequestUTRun, nil)

	var failed protocol.UTTestReply
	s.decode(s.await(protocol.ResponseUTTestFailed), &failed)
	assert.Equal(t, "test_fail", failed.Test)
	assert.Contains(t, failed.Traceback, "AssertionError")

	var finished protocol.UTFinishedReply
	s.decode(s.await(protocol.ResponseUTFinished), &finished)
	assert.Equal(t, 2, finished.Ran)
	assert.Equal(t, 1, finished.Failed)
	assert.False(t, finished.Stopped)
}

func TestShutdownEndsSession(t *testing.T) {
	s := newSession(t, nil)

	s.send(protocol.RequestShutdown, nil)
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine still running after shutdown")
	}
}

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host    string
		network string
		addr    string
	}{
		{"localhost", "tcp", "localhost"},
		{"192.168.1.5@@v4", "tcp4", "192.168.1.5"},
		{"::1@@v6", "tcp6", "::1"},
		{"unix:/tmp/debug.sock", "unix", "/tmp/debug.sock"},
	}
	for _, tt := range tests {
		network, addr := ResolveHost(tt.host)
		assert.Equal(t, tt.network, network, tt.host)
		assert.Equal(t, tt.addr, addr, tt.host)
	}
}

func TestFormatTraceback(t *testing.T) {
	err := &rt.RuntimeError{
		Kind:    "ValueError",
		Message: "boom",
		Stack: []rt.FrameSnapshot{
			{Filename: "prog.dbg", Line: 3, Function: "inner"},
			{Filename: "prog.dbg", Line: 7, Function: ""},
		},
	}
	text := formatTraceback(err)
	assert.Contains(t, text, "Traceback (innermost last):")
	assert.Contains(t, text, `"prog.dbg", line 7, in <module>`)
	assert.Contains(t, text, `"prog.dbg", line 3, in inner`)
	assert.True(t, strings.HasSuffix(text, "ValueError: boom\n"))
}
