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

// Package protocol defines the wire protocol spoken between the debug
// engine and the controlling peer (the IDE).
//
// The protocol is line oriented and half duplex over a single byte
// stream. Every unit is exactly one line terminated by '\n'. A command
// line has the shape
//
//	>Keyword<payload
//
// where the payload, when present, is a single JSON value. Reply lines
// use the same marker shape with response keywords. Any line that does
// not carry a recognized command marker is an interactive statement and
// is fed to the incremental statement compiler; conversely, any reply
// line without a response marker is plain program output.
//
// Earlier generations of this protocol serialized payloads as
// language-native literals read back with a general evaluator. Payloads
// here are JSON precisely to avoid evaluating peer-controlled input.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Marker characters framing a command keyword.
const (
	openMarker  = '>'
	closeMarker = '<'
)

// Request keywords, sent by the peer to the engine.
const (
	RequestVariables    = ">Variables<"
	RequestVariable     = ">Variable<"
	RequestThreadList   = ">ThreadList<"
	RequestThreadSet    = ">SetThread<"
	RequestStep         = ">Step<"
	RequestStepOver     = ">StepOver<"
	RequestStepOut      = ">StepOut<"
	RequestStepQuit     = ">StepQuit<"
	RequestContinue     = ">Continue<"
	RequestOK           = ">OK?<"
	RequestCallTrace    = ">CallTrace<"
	RequestEnvironment  = ">Environment<"
	RequestLoad         = ">Load<"
	RequestRun          = ">Run<"
	RequestCoverage     = ">Coverage<"
	RequestProfile      = ">Profile<"
	RequestShutdown     = ">Shutdown<"
	RequestBreak        = ">Break<"
	RequestBreakEnable  = ">EnableBreak<"
	RequestBreakIgnore  = ">IgnoreBreak<"
	RequestWatch        = ">Watch<"
	RequestWatchEnable  = ">EnableWatch<"
	RequestWatchIgnore  = ">IgnoreWatch<"
	RequestEval         = ">Eval<"
	RequestExec         = ">Exec<"
	RequestBanner       = ">Banner<"
	RequestCapabilities = ">Capabilities<"
	RequestCompletion   = ">Completion<"
	RequestSetFilter    = ">SetFilter<"
	RequestUTPrepare    = ">UTPrepare<"
	RequestUTRun        = ">UTRun<"
	RequestUTStop       = ">UTStop<"
	RequestForkTo       = ">ForkTo<"
	RequestForkMode     = ">ForkMode<"
)

// Response keywords, sent by the engine to the peer.
const (
	ResponseOK               = ">OK<"
	ResponseContinue         = ">Continue<"
	ResponseException        = ">Exception<"
	ResponseSyntax           = ">SyntaxError<"
	ResponseThreadList       = ">ThreadList<"
	ResponseThreadSet        = ">CurrentThread<"
	ResponseStack            = ">Stack<"
	ResponseVariables        = ">Variables<"
	ResponseVariable         = ">Variable<"
	ResponseExit             = ">Exit<"
	ResponseLine             = ">Line<"
	ResponseClearBreak       = ">ClearBreak<"
	ResponseClearWatch       = ">ClearWatch<"
	ResponseBPConditionError = ">BPConditionError<"
	ResponseWPConditionError = ">WPConditionError<"
	ResponseRaw              = ">Raw<"
	ResponseBanner           = ">Banner<"
	ResponseCapabilities     = ">Capabilities<"
	ResponseCompletion       = ">Completion<"
	ResponseSignal           = ">Signal<"
	ResponseCallTrace        = ">CallTrace<"
	ResponseUTPrepared       = ">UTPrepared<"
	ResponseUTStartTest      = ">UTStartTest<"
	ResponseUTTestFailed     = ">UTTestFailed<"
	ResponseUTFinished       = ">UTFinished<"
	ResponseForkTo           = ">ForkTo<"
	PassiveStartup           = ">PassiveStart<"
)

// Capability bits reported by the Capabilities reply.
const (
	HasDebugger = 1 << iota
	HasInterpreter
	HasProfiler
	HasCoverage
	HasCompleter
	HasUnittest
	HasShell
)

// HasAll is the capability mask of a fully featured engine.
const HasAll = HasDebugger | HasInterpreter | HasProfiler | HasCoverage |
	HasCompleter | HasUnittest | HasShell

// ErrNotCommand is returned by ParseCommand for lines that do not carry
// a command marker. Such lines are interactive statements, not errors.
var ErrNotCommand = errors.New("protocol: line is not a command")

// Command is one parsed command line.
type Command struct {
	// Keyword is the full marker, e.g. ">Load<".
	Keyword string

	// Arg is the raw payload after the close marker, usually JSON.
	Arg string
}

// ParseCommand splits a wire line into keyword and payload. The line
// must already be stripped of its trailing newline. Lines without the
// two-character open/close marker pair return ErrNotCommand.
func ParseCommand(line string) (Command, error) {
	if len(line) < 3 || line[0] != openMarker {
		return Command{}, ErrNotCommand
	}
	eoc := strings.IndexByte(line, closeMarker)
	if eoc < 0 {
		return Command{}, ErrNotCommand
	}
	return Command{Keyword: line[:eoc+1], Arg: line[eoc+1:]}, nil
}

// DecodeArg unmarshals a command payload into v.
func DecodeArg(arg string, v any) error {
	return json.Unmarshal([]byte(arg), v)
}

// Reply renders one reply line (without the trailing newline) from a
// response keyword and a payload value. A nil payload produces a bare
// marker line.
func Reply(keyword string, payload any) (string, error) {
	if payload == nil {
		return keyword, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return keyword + string(data), nil
}
