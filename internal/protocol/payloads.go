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

package protocol

// Variable scopes addressed by Variables and Variable commands.
const (
	// ScopeLocal selects the frame's local namespace.
	ScopeLocal = 0

	// ScopeGlobal selects the module namespace.
	ScopeGlobal = 1
)

// LoadRequest carries the arguments of a Load, Run, Coverage or Profile
// command.
type LoadRequest struct {
	// Workdir is the working directory for the program. Empty means
	// the directory containing the program file.
	Workdir string `json:"workdir"`

	// Filename is the program to execute.
	Filename string `json:"filename"`

	// Args are the program arguments (argv[1:]).
	Args []string `json:"args"`

	// TraceInterpreter enables tracing into interpreter-internal
	// frames (Load only).
	TraceInterpreter bool `json:"traceInterpreter,omitempty"`

	// Erase discards previously collected data first (Coverage and
	// Profile only).
	Erase bool `json:"erase,omitempty"`
}

// BreakRequest carries the arguments of a Break command.
type BreakRequest struct {
	Filename  string `json:"filename"`
	Line      int    `json:"line"`
	Temporary bool   `json:"temporary"`
	Set       bool   `json:"set"`
	Condition string `json:"condition,omitempty"`
}

// BreakEnableRequest carries the arguments of an EnableBreak command.
type BreakEnableRequest struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Enable   bool   `json:"enable"`
}

// BreakIgnoreRequest carries the arguments of an IgnoreBreak command.
type BreakIgnoreRequest struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Count    int    `json:"count"`
}

// WatchRequest carries the arguments of a Watch command.
type WatchRequest struct {
	Condition string `json:"condition"`
	Temporary bool   `json:"temporary"`
	Set       bool   `json:"set"`
}

// WatchEnableRequest carries the arguments of an EnableWatch command.
type WatchEnableRequest struct {
	Condition string `json:"condition"`
	Enable    bool   `json:"enable"`
}

// WatchIgnoreRequest carries the arguments of an IgnoreWatch command.
type WatchIgnoreRequest struct {
	Condition string `json:"condition"`
	Count     int    `json:"count"`
}

// VariablesRequest carries the arguments of a Variables command.
type VariablesRequest struct {
	Frame  int   `json:"frame"`
	Scope  int   `json:"scope"`
	Filter []int `json:"filter"`
}

// VariableRequest carries the arguments of a Variable command. Path is
// the list-encoded variable name; a segment ending in "[]", "()" or
// "{}" requests descent into that container.
type VariableRequest struct {
	Path   []string `json:"path"`
	Frame  int      `json:"frame"`
	Scope  int      `json:"scope"`
	Filter []int    `json:"filter"`
}

// FilterRequest carries the arguments of a SetFilter command. Pattern
// is a ';'-separated list of anchored regular expressions.
type FilterRequest struct {
	Scope   int    `json:"scope"`
	Pattern string `json:"pattern"`
}

// ForkModeRequest carries the arguments of a ForkMode command.
type ForkModeRequest struct {
	Auto        bool `json:"auto"`
	FollowChild bool `json:"followChild"`
}

// UTPrepareRequest carries the arguments of a UTPrepare command.
type UTPrepareRequest struct {
	Filename     string   `json:"filename"`
	TestName     string   `json:"testName,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	Coverage     bool     `json:"coverage"`
	CoverageFile string   `json:"coverageFile,omitempty"`
	Erase        bool     `json:"erase"`
}

// StackEntry is one frame of a reported call stack.
type StackEntry struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Function string `json:"function"`
	Args     string `json:"args,omitempty"`
}

// ThreadInfo describes one entry of the thread list reply.
type ThreadInfo struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Broken bool   `json:"broken"`
}

// ThreadListReply is the payload of a ThreadList reply.
type ThreadListReply struct {
	CurrentID int          `json:"currentId"`
	Threads   []ThreadInfo `json:"threads"`
}

// Variable is one (name, type, value) triple of a variables reply.
// Container values carry their element count in Value, not their
// contents, unless explicitly drilled into.
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// VariablesReply is the payload of a Variables reply.
type VariablesReply struct {
	Scope     int        `json:"scope"`
	Variables []Variable `json:"variables"`
}

// VariableReply is the payload of a Variable (single path) reply.
type VariableReply struct {
	Scope     int        `json:"scope"`
	Path      []string   `json:"path"`
	Variables []Variable `json:"variables"`
}

// ExceptionReply is the payload of an Exception reply reporting a
// stopped-at-exception state.
type ExceptionReply struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Stack   []StackEntry `json:"stack,omitempty"`
}

// SyntaxReply is the payload of a SyntaxError reply.
type SyntaxReply struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// BannerReply is the payload of a Banner reply.
type BannerReply struct {
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Variant   string `json:"variant"`
	SessionID string `json:"sessionId"`
}

// CapabilitiesReply is the payload of a Capabilities reply.
type CapabilitiesReply struct {
	Capabilities int    `json:"capabilities"`
	Engine       string `json:"engine"`
}

// CompletionReply is the payload of a Completion reply.
type CompletionReply struct {
	Matches []string `json:"matches"`
	Text    string   `json:"text"`
}

// RawInputRequest is the payload of a Raw reply prompting the peer for
// one line of program input.
type RawInputRequest struct {
	Prompt string `json:"prompt"`
	Echo   bool   `json:"echo"`
}

// BreakConditionError is the payload of a BPConditionError reply.
type BreakConditionError struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

// WatchConditionError is the payload of a WPConditionError reply.
type WatchConditionError struct {
	Condition string `json:"condition"`
}

// ClearBreakReply is the payload of a ClearBreak reply notifying that a
// temporary breakpoint was removed after its hit.
type ClearBreakReply struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

// SignalReply is the payload of a Signal reply.
type SignalReply struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Function string `json:"function"`
	Args     string `json:"args,omitempty"`
}

// CallTraceReply is the payload of a CallTrace reply. Event is "call"
// or "return"; From and To have the form file:line:function.
type CallTraceReply struct {
	Event string `json:"event"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// ExitReply is the payload of an Exit reply.
type ExitReply struct {
	Status int `json:"status"`
}

// PassiveStartupReply announces a passively started program.
type PassiveStartupReply struct {
	Filename   string `json:"filename"`
	Exceptions bool   `json:"exceptions"`
}

// UTPreparedReply is the payload of a UTPrepared reply.
type UTPreparedReply struct {
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// UTFinishedReply is the payload of a UTFinished reply.
type UTFinishedReply struct {
	Ran     int     `json:"ran"`
	Failed  int     `json:"failed"`
	Stopped bool    `json:"stopped"`
	Elapsed float64 `json:"elapsed"`
}

// UTTestReply names a unit test in UTStartTest/UTTestFailed replies.
type UTTestReply struct {
	Test      string `json:"test"`
	Doc       string `json:"doc,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}
