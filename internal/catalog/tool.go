package catalog

import (
	"fmt"
	"strings"
)

// Tool identifies a supported build tool.
type Tool int

const (
	// ToolUnknown is the zero value. As an override it means "discover".
	ToolUnknown Tool = iota
	// ToolMake is GNU/BSD make.
	ToolMake
	// ToolTask is go-task.
	ToolTask
	// ToolEarthly is Earthly.
	ToolEarthly
	// ToolMix is Elixir's mix.
	ToolMix
	// ToolCargo is Rust's cargo.
	ToolCargo
	// ToolGo is the Go toolchain.
	ToolGo
	// ToolDocker is the docker CLI.
	ToolDocker
	// ToolDockerCompose is docker-compose.
	ToolDockerCompose
)

var toolNames = map[Tool]string{
	ToolMake:          "make",
	ToolTask:          "task",
	ToolEarthly:       "earthly",
	ToolMix:           "mix",
	ToolCargo:         "cargo",
	ToolGo:            "go",
	ToolDocker:        "docker",
	ToolDockerCompose: "docker-compose",
}

var toolAliases = map[string]Tool{
	"earth":   ToolEarthly,
	"gotask":  ToolTask,
	"golang":  ToolGo,
	"compose": ToolDockerCompose,
}

// String returns the canonical tool name.
func (t Tool) String() string {
	if name, ok := toolNames[t]; ok {
		return name
	}
	if t == ToolUnknown {
		return "unknown"
	}
	return fmt.Sprintf("tool(%d)", int(t))
}

// Valid reports whether t is one of the supported tools.
func (t Tool) Valid() bool {
	_, ok := toolNames[t]
	return ok
}

// ParseTool maps a tool name (case-insensitive, aliases allowed) to a Tool.
func ParseTool(name string) (Tool, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return ToolUnknown, fmt.Errorf("empty tool name")
	}
	for tool, n := range toolNames {
		if n == key {
			return tool, nil
		}
	}
	if tool, ok := toolAliases[key]; ok {
		return tool, nil
	}
	return ToolUnknown, fmt.Errorf("unknown tool %q", name)
}

// AllTools returns every supported tool in declaration order.
func AllTools() []Tool {
	return []Tool{
		ToolMake,
		ToolTask,
		ToolEarthly,
		ToolMix,
		ToolCargo,
		ToolGo,
		ToolDocker,
		ToolDockerCompose,
	}
}

// Verb is one of the normalized actions forwarded to a tool.
type Verb string

const (
	// VerbBuild compiles or packages the project.
	VerbBuild Verb = "build"
	// VerbRun runs the project.
	VerbRun Verb = "run"
	// VerbTest runs the project's tests.
	VerbTest Verb = "test"
)

// Verbs returns all verbs.
func Verbs() []Verb {
	return []Verb{VerbBuild, VerbRun, VerbTest}
}

// ParseVerb validates a verb name.
func ParseVerb(s string) (Verb, error) {
	switch v := Verb(strings.ToLower(strings.TrimSpace(s))); v {
	case VerbBuild, VerbRun, VerbTest:
		return v, nil
	default:
		return "", fmt.Errorf("unknown verb %q (want build, run or test)", s)
	}
}
