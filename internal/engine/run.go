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
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/tombee/debugd/internal/coverage"
	"github.com/tombee/debugd/internal/log"
	"github.com/tombee/debugd/internal/profiling"
	"github.com/tombee/debugd/internal/protocol"
	rt "github.com/tombee/debugd/internal/runtime"
	"github.com/tombee/debugd/internal/textenc"
	"github.com/tombee/debugd/internal/unittest"
)

type runMode int

const (
	modeDebug runMode = iota
	modePlain
	modeCoverage
	modeProfile
)

func (c *Client) cmdLoad(arg string) {
	var req protocol.LoadRequest
	if !c.decode(arg, &req) {
		return
	}
	c.execute(req, modeDebug)
}

func (c *Client) cmdRun(arg string) {
	var req protocol.LoadRequest
	if !c.decode(arg, &req) {
		return
	}
	c.execute(req, modePlain)
}

func (c *Client) cmdCoverage(arg string) {
	var req protocol.LoadRequest
	if !c.decode(arg, &req) {
		return
	}
	c.execute(req, modeCoverage)
}

func (c *Client) cmdProfile(arg string) {
	var req protocol.LoadRequest
	if !c.decode(arg, &req) {
		return
	}
	c.execute(req, modeProfile)
}

// execute runs one program to completion under the given mode and
// reports its exit. The engine goroutine stays inside this call for
// the whole run; peer commands are handled from the trace callbacks.
func (c *Client) execute(req protocol.LoadRequest, mode runMode) {
	text, _, err := textenc.ReadFile(req.Filename, c.cfg.Run.DefaultCoding, c.cfg.Run.HonorCoding)
	if err != nil {
		c.writeRaw(err.Error() + "\n")
		c.sendReply(protocol.ResponseExit, protocol.ExitReply{Status: 1})
		return
	}
	c.mainFile = req.Filename

	workdir := req.Workdir
	if workdir == "" {
		workdir = filepath.Dir(req.Filename)
	}
	if err := os.Chdir(workdir); err != nil {
		c.log.Warn("failed to change working directory", log.Error(err), "dir", workdir)
	}

	c.prepareInterp(req)
	if mode == modeDebug {
		// Stale breakpoints belong to the previous program; the peer
		// re-sends its set while stopped at the first line.
		c.reg.Clear()
	}
	c.reg.ResetWatchState()

	var (
		cov  *coverage.Store
		prof *profiling.Store
	)
	switch mode {
	case modeDebug:
		c.thread = newThread(c)
		c.interp.SetTracer(c.thread)

	case modeCoverage:
		cov, err = coverage.New(coverage.Config{Path: c.coveragePath()})
		if err != nil {
			c.failRun(err)
			return
		}
		if req.Erase {
			if err := cov.Erase(context.Background()); err != nil {
				c.log.Warn("failed to erase coverage data", log.Error(err))
			}
		}
		c.interp.SetTracer(&coverageTracer{store: cov})

	case modeProfile:
		prof, err = profiling.New(profiling.Config{Path: c.profilePath()})
		if err != nil {
			c.failRun(err)
			return
		}
		if req.Erase {
			if err := prof.Erase(context.Background()); err != nil {
				c.log.Warn("failed to erase profile data", log.Error(err))
			}
		}
		c.interp.SetTracer(&profileTracer{store: prof})
	}

	c.log.Info("program starting",
		log.FileKey, req.Filename, log.EventKey, runModeName(mode))
	runErr := c.interp.Run(req.Filename, text)

	if cov != nil {
		if err := cov.Close(); err != nil {
			c.log.Warn("failed to save coverage data", log.Error(err))
		}
	}
	if prof != nil {
		if err := prof.Close(); err != nil {
			c.log.Warn("failed to save profile data", log.Error(err))
		}
	}
	c.progTerminated(runErr, mode)
}

// prepareInterp builds a fresh interpreter for a run: new namespace,
// session hooks, output redirection, argv.
func (c *Client) prepareInterp(req protocol.LoadRequest) {
	c.interp = c.newInterp()
	c.interp.SetHooks(&peerHooks{c: c})
	if c.cfg.Connect.Redirect {
		c.interp.SetStdout(connWriter{c: c})
	}
	if c.cfg.Run.MaxDepth > 0 {
		c.interp.SetMaxDepth(c.cfg.Run.MaxDepth)
	}
	argv := make([]any, 0, len(req.Args)+1)
	argv = append(argv, req.Filename)
	for _, a := range req.Args {
		argv = append(argv, a)
	}
	c.interp.Globals()["argv"] = argv
}

func (c *Client) coveragePath() string {
	if c.cfg.Coverage.Path != "" {
		return c.cfg.Coverage.Path
	}
	return c.mainFile + ".coverage.db"
}

func (c *Client) profilePath() string {
	if c.cfg.Profile.Path != "" {
		return c.cfg.Profile.Path
	}
	return c.mainFile + ".profile.db"
}

func (c *Client) failRun(err error) {
	c.log.Error("failed to start program", log.Error(err))
	c.writeRaw(err.Error() + "\n")
	c.sendReply(protocol.ResponseExit, protocol.ExitReply{Status: 1})
}

// progTerminated reports the program's end to the peer and resets the
// run state.
func (c *Client) progTerminated(err error, mode runMode) {
	status := rt.ExitStatus(err)

	switch {
	case err == nil:

	case errors.Is(err, rt.ErrQuit):
		// A quit in passive mode is an abnormal termination; the
		// front end recognizes status 42.
		status = 0
		if c.passive {
			status = 42
		}

	case isExit(err):
		// Status already extracted.

	case isSyntax(err):
		var serr *rt.SyntaxError
		errors.As(err, &serr)
		c.sendReply(protocol.ResponseSyntax, protocol.SyntaxReply{
			Message:  serr.Message,
			Filename: serr.Filename,
			Line:     serr.Line,
			Column:   serr.Column,
		})

	default:
		// An unhandled runtime error. Under debug trace it was
		// already reported at the raise site.
		if c.thread == nil || !c.thread.reported {
			c.writeRaw(formatTraceback(err))
		}
	}

	c.log.Info("program terminated", log.FileKey, c.mainFile, "status", status)
	c.sendReply(protocol.ResponseExit, protocol.ExitReply{Status: status})
	c.thread = nil
	if c.passive {
		// A passive session exists only for this one program.
		c.quitting = true
	}
}

func isExit(err error) bool {
	var exit *rt.ExitError
	return errors.As(err, &exit)
}

func isSyntax(err error) bool {
	var serr *rt.SyntaxError
	return errors.As(err, &serr)
}

func runModeName(mode runMode) string {
	switch mode {
	case modeDebug:
		return "debug"
	case modeCoverage:
		return "coverage"
	case modeProfile:
		return "profile"
	default:
		return "run"
	}
}

// coverageTracer records executed lines and nothing else.
type coverageTracer struct {
	store *coverage.Store
}

func (t *coverageTracer) TraceLine(f rt.Frame) error {
	t.store.Record(f.Filename(), f.Line())
	return nil
}
func (t *coverageTracer) TraceCall(caller, callee rt.Frame) error { return nil }
func (t *coverageTracer) TraceReturn(f rt.Frame, value any) error { return nil }
func (t *coverageTracer) TraceException(f rt.Frame, err error) error {
	return nil
}

// profileTracer charges wall time per function.
type profileTracer struct {
	store *profiling.Store
}

func (t *profileTracer) TraceLine(f rt.Frame) error { return nil }
func (t *profileTracer) TraceCall(caller, callee rt.Frame) error {
	t.store.Enter(callee.Filename(), callee.Function())
	return nil
}
func (t *profileTracer) TraceReturn(f rt.Frame, value any) error {
	t.store.Exit()
	return nil
}
func (t *profileTracer) TraceException(f rt.Frame, err error) error {
	return nil
}

// utRunner carries unit test session state between prepare and run.
type utRunner struct {
	runner *unittest.Runner
	cov    *coverage.Store
}

func (c *Client) cmdUTPrepare(arg string) {
	var req protocol.UTPrepareRequest
	if !c.decode(arg, &req) {
		return
	}
	text, _, err := textenc.ReadFile(req.Filename, c.cfg.Run.DefaultCoding, c.cfg.Run.HonorCoding)
	if err != nil {
		c.sendReply(protocol.ResponseUTPrepared, protocol.UTPreparedReply{
			Error:   "load",
			Message: err.Error(),
		})
		return
	}

	c.interp = c.newInterp()
	c.interp.SetHooks(&peerHooks{c: c})
	if c.cfg.Connect.Redirect {
		c.interp.SetStdout(connWriter{c: c})
	}

	c.utRunner = utRunner{}
	if req.Coverage {
		path := req.CoverageFile
		if path == "" {
			path = req.Filename + ".coverage.db"
		}
		cov, err := coverage.New(coverage.Config{Path: path})
		if err != nil {
			c.sendReply(protocol.ResponseUTPrepared, protocol.UTPreparedReply{
				Error:   "coverage",
				Message: err.Error(),
			})
			return
		}
		if req.Erase {
			if err := cov.Erase(context.Background()); err != nil {
				c.log.Warn("failed to erase coverage data", log.Error(err))
			}
		}
		c.interp.SetTracer(&coverageTracer{store: cov})
		c.utRunner.cov = cov
	}

	runner := unittest.NewRunner(c.interp)
	tests, err := runner.Prepare(req.Filename, text, req.Failed)
	if err != nil {
		c.sendReply(protocol.ResponseUTPrepared, protocol.UTPreparedReply{
			Error:   "prepare",
			Message: err.Error(),
		})
		return
	}
	c.utRunner.runner = runner
	c.sendReply(protocol.ResponseUTPrepared, protocol.UTPreparedReply{Count: len(tests)})
}

func (c *Client) cmdUTRun(string) {
	if c.utRunner.runner == nil {
		c.sendReply(protocol.ResponseUTFinished, protocol.UTFinishedReply{})
		return
	}
	summary := c.utRunner.runner.Run(unittest.Callbacks{
		StartTest: func(name string) {
			c.sendReply(protocol.ResponseUTStartTest, protocol.UTTestReply{Test: name})
		},
		TestFailed: func(name, kind, message string) {
			c.sendReply(protocol.ResponseUTTestFailed, protocol.UTTestReply{
				Test:      name,
				Traceback: kind + ": " + message,
			})
		},
	})
	if c.utRunner.cov != nil {
		if err := c.utRunner.cov.Close(); err != nil {
			c.log.Warn("failed to save coverage data", log.Error(err))
		}
		c.utRunner.cov = nil
	}
	c.sendReply(protocol.ResponseUTFinished, protocol.UTFinishedReply{
		Ran:     summary.Ran,
		Failed:  summary.Failed,
		Stopped: summary.Stopped,
		Elapsed: summary.Elapsed.Seconds(),
	})
}

func (c *Client) cmdUTStop(string) {
	if c.utRunner.runner != nil {
		c.utRunner.runner.Stop()
	}
}
