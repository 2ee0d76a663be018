package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Stage names an internal processing stage that can be traced.
type Stage string

const (
	StagePool        Stage = "POOL"
	StageGnode       Stage = "GNODE"
	StageMaster      Stage = "MASTER"
	StageTransitions Stage = "TRANSITIONS"
	StageSort        Stage = "SORT"
)

// TracePrefix is prepended to a stage name to form its environment variable,
// e.g. DELTAPIVOT_TRACE_GNODE=1.
const TracePrefix = "DELTAPIVOT_TRACE_"

// Stages lists every traceable stage.
var Stages = []Stage{StagePool, StageGnode, StageMaster, StageTransitions, StageSort}

var (
	traceOnce  sync.Once
	traceFlags map[Stage]bool
	traceMu    sync.RWMutex
)

// Tracing reports whether verbose tracing is enabled for stage. The
// environment is read once per process; an absent or unparsable variable
// means disabled.
func Tracing(stage Stage) bool {
	traceOnce.Do(loadTraceFlags)
	traceMu.RLock()
	defer traceMu.RUnlock()
	return traceFlags[stage]
}

func loadTraceFlags() {
	flags := make(map[Stage]bool, len(Stages))
	for _, s := range Stages {
		v, ok := os.LookupEnv(TracePrefix + string(s))
		if !ok {
			continue
		}
		on, err := strconv.ParseBool(v)
		flags[s] = err == nil && on
	}
	traceMu.Lock()
	traceFlags = flags
	traceMu.Unlock()
}

// ParseStage resolves a stage name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if strings.EqualFold(name, string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown trace stage %q", name)
}

// SetTracing overrides the flag for one stage. The CLI's --trace flag
// uses it to enable stages without the environment.
func SetTracing(stage Stage, on bool) {
	traceOnce.Do(loadTraceFlags)
	traceMu.Lock()
	defer traceMu.Unlock()
	traceFlags[stage] = on
}
