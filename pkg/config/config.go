// Package config loads the transcoder configuration document: global
// settings, cluster host definitions, profiles and templates.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlsmithjr/transcoder/pkg/models"
	"github.com/mlsmithjr/transcoder/pkg/profile"
)

// ErrInvalid wraps every problem found in a configuration document
var ErrInvalid = errors.New("invalid configuration")

// HostSpec is one host entry under a cluster
type HostSpec struct {
	Type          string         `yaml:"type"`
	Status        string         `yaml:"status"`
	IP            string         `yaml:"ip"`
	User          string         `yaml:"user"`
	OS            string         `yaml:"os"`
	WorkingDir    string         `yaml:"working_dir"`
	FFmpeg        string         `yaml:"ffmpeg"`
	Identity      string         `yaml:"identity"`
	Port          int            `yaml:"port"`
	Profiles      []string       `yaml:"profiles"`
	Substitutions []string       `yaml:"path-substitutions"`
	Queues        map[string]int `yaml:"queues"`
}

// Settings is the "config" section
type Settings struct {
	FFmpeg          string                         `yaml:"ffmpeg"`
	FFprobe         string                         `yaml:"ffprobe"`
	Identity        string                         `yaml:"ssh_identity"`
	KnownHosts      string                         `yaml:"known_hosts"`
	InsecureHosts   bool                           `yaml:"insecure_host_keys"`
	Automap         *bool                          `yaml:"automap"`
	MonitorInterval time.Duration                  `yaml:"monitor_interval"`
	TempDir         string                         `yaml:"temp_dir"`
	LogRetention    time.Duration                  `yaml:"log_retention"`
	DefaultProfile  string                         `yaml:"default_profile"`
	SkipCodecs      []string                       `yaml:"skip_codecs"`
	Clusters        map[string]map[string]HostSpec `yaml:"clusters"`
}

type document struct {
	Config    Settings                        `yaml:"config"`
	Profiles  map[string]profile.Spec         `yaml:"profiles"`
	Templates map[string]profile.TemplateSpec `yaml:"templates"`
}

// Config is a loaded and validated configuration
type Config struct {
	Settings
	Path       string
	Directives *profile.Set
}

// Load reads and parses the file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes a configuration document, applies defaults and resolves
// profile includes.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	set, err := profile.NewSet(doc.Profiles, doc.Templates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg := &Config{Settings: doc.Config, Directives: set}
	cfg.applyDefaults()

	if cfg.DefaultProfile != "" && !set.Has(cfg.DefaultProfile) {
		return nil, fmt.Errorf("%w: default_profile %q is not defined", ErrInvalid, cfg.DefaultProfile)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}
	if c.FFprobe == "" {
		c.FFprobe = "ffprobe"
	}
	if c.LogRetention == 0 {
		c.LogRetention = 7 * 24 * time.Hour
	}
	if c.Automap == nil {
		automap := true
		c.Automap = &automap
	}
}

// AutomapEnabled reports whether multi-stream sources get explicit mapping
func (c *Config) AutomapEnabled() bool {
	return c.Automap == nil || *c.Automap
}

// ClusterNames returns the defined cluster names, sorted
func (c *Config) ClusterNames() []string {
	names := make([]string, 0, len(c.Clusters))
	for name := range c.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hosts builds the host profiles of every cluster
func (c *Config) Hosts() (map[string]map[string]*models.HostProfile, error) {
	out := make(map[string]map[string]*models.HostProfile, len(c.Clusters))
	var errs []error
	for clusterName, hosts := range c.Clusters {
		profiles := make(map[string]*models.HostProfile, len(hosts))
		for name, spec := range hosts {
			h, err := spec.profile(name)
			if err != nil {
				errs = append(errs, fmt.Errorf("cluster %s: %w", clusterName, err))
				continue
			}
			profiles[name] = h
		}
		out[clusterName] = profiles
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return out, nil
}

func (s HostSpec) profile(name string) (*models.HostProfile, error) {
	h := &models.HostProfile{
		Name:         name,
		Kind:         models.HostKind(s.Type),
		Status:       s.Status,
		Address:      s.IP,
		User:         s.User,
		OS:           s.OS,
		WorkingDir:   s.WorkingDir,
		FFmpegPath:   s.FFmpeg,
		IdentityFile: s.Identity,
		Port:         s.Port,
		Directives:   s.Profiles,
		Queues:       s.Queues,
	}
	for _, entry := range s.Substitutions {
		sub, err := models.ParsePathSubstitution(entry)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", name, err)
		}
		h.Substitutions = append(h.Substitutions, sub)
	}
	return h, nil
}

// OnlyHost disables every host except the named one. The host keeps its
// own status so a disabled host stays disabled.
func OnlyHost(clusters map[string]map[string]*models.HostProfile, host string) error {
	found := false
	for _, hosts := range clusters {
		for name, h := range hosts {
			if name == host {
				found = true
				continue
			}
			h.Status = "disabled"
		}
	}
	if !found {
		return fmt.Errorf("%w: host %q not defined in any cluster", ErrInvalid, host)
	}
	return nil
}
