// Package ptyscript implements the match/expect script engine driven
// against a pty.Process: the queue stage that turns a declarative YAML
// script into MatchActions, and the drive stage that consumes them
// sequentially or via alternation (spec.md §4.9.2, §6.3).
package ptyscript

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StepKind names a queueable script action (spec.md §3 MatchAction kind).
type StepKind string

const (
	KindMatch   StepKind = "match"
	KindOne     StepKind = "one"
	KindEOF     StepKind = "eof"
	KindWrite   StepKind = "write"
	KindRaw     StepKind = "raw"
	KindLog     StepKind = "log"
	KindSpawn   StepKind = "spawn"
	KindCfg     StepKind = "cfg"
	KindRelease StepKind = "release"
	KindStty    StepKind = "stty"
	KindSleep   StepKind = "sleep"
	KindDebug   StepKind = "debug"
	KindEnqueue StepKind = "enqueue"
	KindExit    StepKind = "exit"
	KindFail    StepKind = "fail"
	KindTimeout StepKind = "timeout"
	KindMatcher StepKind = "matcher"
	KindHexdump StepKind = "hexdump"
)

// RateConfig is a write rate limit: payload chunked into Bytes-sized
// pieces with a Delay-second pause between chunks.
type RateConfig struct {
	Bytes int     `yaml:"bytes"`
	Delay float64 `yaml:"delay"`
}

// StepSpec is one YAML-declared script step.
type StepSpec struct {
	Kind StepKind `yaml:"kind"`

	Pattern  string      `yaml:"pattern"`
	Matcher  MatcherKind `yaml:"matcher"`
	Timeout  *float64    `yaml:"timeout"`
	Callback string      `yaml:"callback"`

	Payload string      `yaml:"payload"`
	Value   interface{} `yaml:"value"`
	Rate    *RateConfig `yaml:"rate"`

	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	Message string `yaml:"message"`
	Code    int    `yaml:"code"`

	Steps []StepSpec `yaml:"steps"`

	// ordinal is this step's 1-based position within its enclosing
	// step list, used in diagnostics in place of a source line number:
	// yaml.v3's struct-tag decoding doesn't carry per-field line info
	// through to nested slices without a parallel yaml.Node walk, which
	// isn't worth the complexity for a script format this small.
	ordinal int
}

// LoadScript reads a script file, stripping a leading shebang line if
// present, and parses its YAML step list (spec.md §6.3).
func LoadScript(path string) ([]StepSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ptyscript: read %s: %w", path, err)
	}
	if bytes.HasPrefix(data, []byte("#!")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		} else {
			data = nil
		}
	}
	var steps []StepSpec
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &steps); err != nil {
			return nil, fmt.Errorf("ptyscript: parse %s: %w", path, err)
		}
	}
	assignOrdinals(steps)
	return steps, nil
}

func assignOrdinals(steps []StepSpec) {
	for i := range steps {
		steps[i].ordinal = i + 1
		assignOrdinals(steps[i].Steps)
	}
}
