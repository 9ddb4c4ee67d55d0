package models

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// HostKind selects how a host runs the encoder
type HostKind string

const (
	HostLocal     HostKind = "local"     // child process on this machine
	HostMounted   HostKind = "mounted"   // ssh, media on a shared filesystem
	HostStreaming HostKind = "streaming" // ssh, media copied in and out
	HostAgent     HostKind = "agent"     // remote agent over tcp
)

// Supported remote operating systems
const (
	OSMacOS = "macos"
	OSLinux = "linux"
	OSWin10 = "win10"
)

// DefaultAgentPort is the port agents listen on
const DefaultAgentPort = 9567

// PathSubstitution rewrites a local path prefix into the path a remote host
// sees for the same shared storage.
type PathSubstitution struct {
	Src  string
	Dest string
}

// ParsePathSubstitution parses a "src dest" pair
func ParsePathSubstitution(s string) (PathSubstitution, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return PathSubstitution{}, fmt.Errorf("path substitution %q must be \"src dest\"", s)
	}
	return PathSubstitution{Src: parts[0], Dest: parts[1]}, nil
}

// HostProfile is the read-only configuration of one cluster host.
type HostProfile struct {
	Name          string
	Kind          HostKind
	Status        string
	Address       string
	User          string
	OS            string
	WorkingDir    string
	FFmpegPath    string
	IdentityFile  string
	Port          int
	Directives    []string
	Substitutions []PathSubstitution
	Queues        map[string]int
}

// Enabled reports whether the host takes part in the cluster
func (h *HostProfile) Enabled() bool {
	return h.Status == "" || h.Status == "enabled"
}

// QueueSlots returns the host's queue map, defaulting to one slot on the
// default queue.
func (h *HostProfile) QueueSlots() map[string]int {
	if len(h.Queues) == 0 {
		return map[string]int{DefaultQueue: 1}
	}
	return h.Queues
}

// QueueNames returns the host's queue names in a stable order
func (h *HostProfile) QueueNames() []string {
	slots := h.QueueSlots()
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AgentPort returns the configured agent port or the default
func (h *HostProfile) AgentPort() int {
	if h.Port > 0 {
		return h.Port
	}
	return DefaultAgentPort
}

// Allows reports whether the host accepts jobs for the named directive.
// An empty allow list accepts everything.
func (h *HostProfile) Allows(directive string) bool {
	if len(h.Directives) == 0 {
		return true
	}
	for _, d := range h.Directives {
		if d == directive {
			return true
		}
	}
	return false
}

// SubstitutePaths applies the first substitution whose source appears in
// inPath to both paths.
func (h *HostProfile) SubstitutePaths(inPath, outPath string) (string, string) {
	for _, sub := range h.Substitutions {
		if strings.Contains(inPath, sub.Src) {
			return strings.ReplaceAll(inPath, sub.Src, sub.Dest), strings.ReplaceAll(outPath, sub.Src, sub.Dest)
		}
	}
	return inPath, outPath
}

// TargetOS returns the operating system the encoder runs on
func (h *HostProfile) TargetOS() string {
	if h.Kind == HostLocal {
		return LocalOS()
	}
	return h.OS
}

// IsWindows reports whether the encoder runs on Windows
func (h *HostProfile) IsWindows() bool {
	return h.TargetOS() == OSWin10
}

// Validate checks the fields required by the host's kind and returns every
// problem found.
func (h *HostProfile) Validate() error {
	var errs []error
	if h.Kind == "" {
		errs = append(errs, errors.New(`missing "type"`))
	}
	if h.Status == "" {
		errs = append(errs, errors.New(`missing "status"`))
	}
	switch h.Kind {
	case HostLocal, HostAgent:
	case HostMounted, HostStreaming:
		if h.Address == "" {
			errs = append(errs, errors.New(`missing "ip"`))
		}
		if h.User == "" {
			errs = append(errs, errors.New(`missing "user"`))
		}
		switch h.OS {
		case "":
			errs = append(errs, errors.New(`missing "os"`))
		case OSMacOS, OSLinux, OSWin10:
		default:
			errs = append(errs, fmt.Errorf(`unsupported "os" type %s`, h.OS))
		}
		if h.Kind == HostStreaming && h.WorkingDir == "" {
			errs = append(errs, errors.New(`missing "working_dir"`))
		}
	case "":
	default:
		errs = append(errs, fmt.Errorf("unknown host type %q", h.Kind))
	}
	if h.Kind == HostAgent && h.Address == "" {
		errs = append(errs, errors.New(`missing "ip"`))
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation error(s) for host %s: %w", h.Name, errors.Join(errs...))
	}
	return nil
}

// LocalOS maps the running platform onto the configuration OS names
func LocalOS() string {
	switch runtime.GOOS {
	case "windows":
		return OSWin10
	case "darwin":
		return OSMacOS
	case "linux":
		return OSLinux
	default:
		return "unknown"
	}
}
