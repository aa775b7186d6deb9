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
	"os"
	"regexp"
	"strings"

	"github.com/tombee/debugd/internal/completion"
	"github.com/tombee/debugd/internal/log"
	"github.com/tombee/debugd/internal/protocol"
	rt "github.com/tombee/debugd/internal/runtime"
	"github.com/tombee/debugd/internal/varlist"
)

func (c *Client) decode(arg string, v any) bool {
	if err := protocol.DecodeArg(arg, v); err != nil {
		c.log.Warn("failed to decode command payload", log.Error(err))
		return false
	}
	return true
}

func (c *Client) cmdVariables(arg string) {
	var req protocol.VariablesRequest
	if !c.decode(arg, &req) {
		return
	}
	filter := c.filterFor(req.Scope, req.Filter)
	ns := c.namespace(c.frameAt(req.Frame), req.Scope)
	vars := varlist.List(ns, filter)
	decorate(vars)
	c.sendReply(protocol.ResponseVariables, protocol.VariablesReply{
		Scope:     req.Scope,
		Variables: vars,
	})
}

func (c *Client) cmdVariable(arg string) {
	var req protocol.VariableRequest
	if !c.decode(arg, &req) {
		return
	}
	filter := c.filterFor(req.Scope, req.Filter)
	ns := c.namespace(c.frameAt(req.Frame), req.Scope)

	reply := protocol.VariableReply{Scope: req.Scope, Path: req.Path}
	v, rerr := varlist.Resolve(ns, req.Path)
	if rerr == nil {
		if children := varlist.Children(v, filter); children != nil {
			decorate(children)
			// A request whose final segment carries a descent suffix is
			// already drilling; anything else gets the outer-container
			// summary appended.
			if !varlist.HasSuffix(req.Path[len(req.Path)-1]) {
				if sum, ok := varlist.Summary(v); ok {
					children = append(children, sum)
				}
			}
			reply.Variables = children
		} else {
			name := varlist.TrimSuffixes(req.Path[len(req.Path)-1])
			reply.Variables = []protocol.Variable{varlist.Entry(name, v)}
		}
	}
	// An unresolvable path yields an empty listing rather than an
	// error; the peer may hold stale expansion state.
	c.sendReply(protocol.ResponseVariable, reply)
}

func decorate(vars []protocol.Variable) {
	for i := range vars {
		if vars[i].Name == "..." {
			continue
		}
		vars[i].Name = varlist.DisplayName(vars[i].Name, vars[i].Type)
	}
}

func (c *Client) filterFor(scope int, indices []int) varlist.Filter {
	return varlist.Filter{ExcludeTypes: indices, Pattern: c.patterns[scope]}
}

func (c *Client) cmdSetFilter(arg string) {
	var req protocol.FilterRequest
	if !c.decode(arg, &req) {
		return
	}
	if req.Pattern == "" {
		delete(c.patterns, req.Scope)
		return
	}
	var anchored []string
	for _, p := range strings.Split(req.Pattern, ";") {
		if p != "" {
			anchored = append(anchored, "^(?:"+p+")$")
		}
	}
	re, err := regexp.Compile(strings.Join(anchored, "|"))
	if err != nil {
		c.log.Warn("invalid name filter pattern", log.Error(err), "pattern", req.Pattern)
		return
	}
	c.patterns[req.Scope] = re
}

func (c *Client) cmdThreadList(string) {
	reply := protocol.ThreadListReply{CurrentID: mainThreadID}
	if c.thread != nil {
		reply.Threads = []protocol.ThreadInfo{{
			ID:     c.thread.id,
			Name:   c.thread.name,
			Broken: c.thread.broken,
		}}
	}
	c.sendReply(protocol.ResponseThreadList, reply)
}

func (c *Client) cmdThreadSet(arg string) {
	var req struct {
		ID int `json:"id"`
	}
	if !c.decode(arg, &req) {
		return
	}
	if c.thread == nil || req.ID != c.thread.id {
		c.log.Warn("unknown thread requested", "thread_id", req.ID)
		return
	}
	c.sendReply(protocol.ResponseThreadSet, protocol.ThreadInfo{
		ID:     c.thread.id,
		Name:   c.thread.name,
		Broken: c.thread.broken,
	})
	c.sendReply(protocol.ResponseStack, stackFrom(c.thread.frame))
}

func (c *Client) cmdStep(string) {
	if c.thread != nil {
		c.thread.stepInto()
	}
	c.eventExit = true
}

func (c *Client) cmdStepOver(string) {
	if c.thread != nil {
		c.thread.stepOver()
	}
	c.eventExit = true
}

func (c *Client) cmdStepOut(string) {
	if c.thread != nil {
		c.thread.stepOut()
	}
	c.eventExit = true
}

func (c *Client) cmdStepQuit(string) {
	if c.thread != nil {
		c.thread.quitting = true
	} else {
		c.quitting = true
	}
	c.eventExit = true
}

func (c *Client) cmdContinue(arg string) {
	var req struct {
		Special bool `json:"special"`
	}
	if arg != "" {
		c.decode(arg, &req)
	}
	if c.thread != nil {
		c.thread.resume(req.Special)
	}
	c.eventExit = true
}

func (c *Client) cmdPending(string) {
	c.emitPending()
}

func (c *Client) cmdCallTrace(arg string) {
	var enable bool
	if !c.decode(arg, &enable) {
		return
	}
	c.callTrace = enable
}

// cmdEnvironment merges peer-supplied variables into the process
// environment. A key ending in '+' appends to the existing value
// instead of replacing it.
func (c *Client) cmdEnvironment(arg string) {
	var env map[string]string
	if !c.decode(arg, &env) {
		return
	}
	for key, value := range env {
		if appendKey, ok := strings.CutSuffix(key, "+"); ok {
			os.Setenv(appendKey, os.Getenv(appendKey)+value)
			continue
		}
		os.Setenv(key, value)
	}
}

func (c *Client) cmdBreak(arg string) {
	var req protocol.BreakRequest
	if !c.decode(arg, &req) {
		return
	}
	if !req.Set {
		c.reg.ClearBreak(req.Filename, req.Line)
		return
	}
	if _, err := c.reg.SetBreak(req.Filename, req.Line, req.Temporary, req.Condition); err != nil {
		c.log.Warn("breakpoint condition rejected",
			log.FileKey, req.Filename, log.LineKey, req.Line, log.Error(err))
		c.sendReply(protocol.ResponseBPConditionError, protocol.BreakConditionError{
			Filename: req.Filename,
			Line:     req.Line,
		})
	}
}

func (c *Client) cmdBreakEnable(arg string) {
	var req protocol.BreakEnableRequest
	if !c.decode(arg, &req) {
		return
	}
	if err := c.reg.EnableBreak(req.Filename, req.Line, req.Enable); err != nil {
		c.log.Warn("failed to toggle breakpoint", log.Error(err))
	}
}

func (c *Client) cmdBreakIgnore(arg string) {
	var req protocol.BreakIgnoreRequest
	if !c.decode(arg, &req) {
		return
	}
	if err := c.reg.IgnoreBreak(req.Filename, req.Line, req.Count); err != nil {
		c.log.Warn("failed to set breakpoint ignore count", log.Error(err))
	}
}

func (c *Client) cmdWatch(arg string) {
	var req protocol.WatchRequest
	if !c.decode(arg, &req) {
		return
	}
	if !req.Set {
		c.reg.ClearWatch(req.Condition)
		return
	}
	if _, err := c.reg.SetWatch(req.Condition, req.Temporary); err != nil {
		c.log.Warn("watch condition rejected", log.Error(err))
		c.sendReply(protocol.ResponseWPConditionError, protocol.WatchConditionError{
			Condition: req.Condition,
		})
	}
}

func (c *Client) cmdWatchEnable(arg string) {
	var req protocol.WatchEnableRequest
	if !c.decode(arg, &req) {
		return
	}
	if err := c.reg.EnableWatch(req.Condition, req.Enable); err != nil {
		c.log.Warn("failed to toggle watch", log.Error(err))
	}
}

func (c *Client) cmdWatchIgnore(arg string) {
	var req protocol.WatchIgnoreRequest
	if !c.decode(arg, &req) {
		return
	}
	if err := c.reg.IgnoreWatch(req.Condition, req.Count); err != nil {
		c.log.Warn("failed to set watch ignore count", log.Error(err))
	}
}

// cmdEval evaluates an expression in the selected frame. The value
// (or traceback) goes out as raw text, then a bare OK or Exception
// marker; the pending response slot is left alone.
func (c *Client) cmdEval(arg string) {
	var src string
	if !c.decode(arg, &src) {
		return
	}
	v, err := c.interp.Eval(src, c.currentFrame())
	if err != nil {
		c.writeRaw(formatTraceback(err))
		c.sendLine(protocol.ResponseException)
		return
	}
	c.writeRaw(varlist.Render(v) + "\n")
	c.sendLine(protocol.ResponseOK)
}

// cmdExec executes a complete statement in the selected frame.
func (c *Client) cmdExec(arg string) {
	var src string
	if !c.decode(arg, &src) {
		return
	}
	code, err := c.interp.CompileStatement(src)
	if err == nil {
		err = c.interp.ExecCode(code, c.currentFrame())
	}
	if err != nil {
		if errors.Is(err, rt.ErrIncomplete) {
			c.sendLine(protocol.ResponseContinue)
			return
		}
		c.writeRaw(formatTraceback(err))
		c.sendLine(protocol.ResponseException)
		return
	}
	c.sendLine(protocol.ResponseOK)
}

func (c *Client) cmdBanner(string) {
	c.sendReply(protocol.ResponseBanner, protocol.BannerReply{
		Version:   Version,
		Hostname:  hostname(),
		Variant:   "debugd",
		SessionID: c.sessionID,
	})
}

func (c *Client) cmdCapabilities(string) {
	c.sendReply(protocol.ResponseCapabilities, protocol.CapabilitiesReply{
		Capabilities: protocol.HasAll,
		Engine:       "debugd",
	})
}

func (c *Client) cmdCompletion(arg string) {
	var text string
	if !c.decode(arg, &text) {
		return
	}
	f := c.currentFrame()
	ns := c.namespace(f, protocol.ScopeLocal)
	matches, fragment := completion.Complete(text, c.interp.Names(f), ns)
	c.sendReply(protocol.ResponseCompletion, protocol.CompletionReply{
		Matches: matches,
		Text:    fragment,
	})
}

func (c *Client) cmdForkMode(arg string) {
	var req protocol.ForkModeRequest
	if !c.decode(arg, &req) {
		return
	}
	c.forkAuto = req.Auto
	c.forkChild = req.FollowChild
}

func (c *Client) cmdForkTo(arg string) {
	var branch string
	if !c.decode(arg, &branch) {
		return
	}
	select {
	case c.forkChoice <- branch:
	default:
		c.log.Warn("fork choice received with no fork pending", "branch", branch)
	}
}

func (c *Client) cmdShutdown(string) {
	c.quitting = true
	if c.thread != nil {
		c.thread.quitting = true
	}
	c.eventExit = true
}
