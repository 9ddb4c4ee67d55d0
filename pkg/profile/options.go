package profile

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options is an ordered list of encoder options, each entry being a flag
// optionally followed by its value ("-c:v hevc", "-y").
type Options struct {
	entries []string
}

// NewOptions builds Options from entries, collapsing repeated flags
func NewOptions(entries ...string) Options {
	var o Options
	o.Merge(Options{entries: entries})
	return o
}

// UnmarshalYAML accepts either a single string or a list of strings
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			o.entries = []string{node.Value}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*o = NewOptions(list...)
		return nil
	default:
		return fmt.Errorf("line %d: options must be a string or a list", node.Line)
	}
}

// Merge overlays o on top of parent: the parent's flags keep their order,
// o's values win, and flags only o has are appended.
func (o *Options) Merge(parent Options) {
	keys := make([]string, 0, len(parent.entries)+len(o.entries))
	values := make(map[string]string, cap(keys))
	put := func(entry string, override bool) {
		flag, value := splitEntry(entry)
		if flag == "" {
			return
		}
		if _, seen := values[flag]; !seen {
			keys = append(keys, flag)
		} else if override && value == "" {
			return
		}
		values[flag] = value
	}
	for _, e := range parent.entries {
		put(e, false)
	}
	for _, e := range o.entries {
		put(e, true)
	}

	merged := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := values[k]; v != "" {
			merged = append(merged, k+" "+v)
		} else {
			merged = append(merged, k)
		}
	}
	o.entries = merged
}

// Remove drops the first entry for flag
func (o *Options) Remove(flag string) {
	for i, e := range o.entries {
		if f, _ := splitEntry(e); f == flag {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return
		}
	}
}

// List returns the entries as configured
func (o Options) List() []string {
	out := make([]string, len(o.entries))
	copy(out, o.entries)
	return out
}

// Args splits every entry into individual command line arguments
func (o Options) Args() []string {
	var args []string
	for _, e := range o.entries {
		args = append(args, strings.Fields(e)...)
	}
	return args
}

// Empty reports whether there are no entries
func (o Options) Empty() bool {
	return len(o.entries) == 0
}

func splitEntry(entry string) (string, string) {
	fields := strings.Fields(entry)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
