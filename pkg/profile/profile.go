package profile

import (
	"strings"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// Mixin-capable output sections, in the order they are emitted
var sections = []string{"audio", "video", "subtitle"}

// Languages selects which audio or subtitle tracks are mapped to the output
type Languages struct {
	Include []string `yaml:"include_languages"`
	Exclude []string `yaml:"exclude_languages"`
	Default string   `yaml:"default_language"`
}

func (l *Languages) filtered() bool {
	return l != nil && (len(l.Include) > 0 || len(l.Exclude) > 0)
}

// Spec is the configuration document for one profile
type Spec struct {
	InputOptions   Options    `yaml:"input_options"`
	OutputOptions  Options    `yaml:"output_options"`
	OutputAudio    *Options   `yaml:"output_options_audio"`
	OutputVideo    *Options   `yaml:"output_options_video"`
	OutputSubtitle *Options   `yaml:"output_options_subtitle"`
	Extension      string     `yaml:"extension"`
	Queue          string     `yaml:"queue"`
	Threshold      *int       `yaml:"threshold"`
	ThresholdCheck *int       `yaml:"threshold_check"`
	Include        string     `yaml:"include"`
	Audio          *Languages `yaml:"audio"`
	Subtitle       *Languages `yaml:"subtitle"`
}

// Profile is an options-based Directive. Mixins are resolved against the
// Set that owns the profile.
type Profile struct {
	name string
	spec Spec
	set  *Set
}

// Name returns the profile name
func (p *Profile) Name() string { return p.name }

// Extension returns the output file extension, including the dot
func (p *Profile) Extension() string { return p.spec.Extension }

// QueueName returns the configured queue, if any
func (p *Profile) QueueName() string { return p.spec.Queue }

// Threshold returns the minimum compression percentage (0 disables)
func (p *Profile) Threshold() int {
	if p.spec.Threshold == nil {
		return 0
	}
	return *p.spec.Threshold
}

// ThresholdCheck returns the completion percentage at which the threshold
// is first enforced (100 disables mid-run checks)
func (p *Profile) ThresholdCheck() int {
	if p.spec.ThresholdCheck == nil {
		return 100
	}
	return *p.spec.ThresholdCheck
}

// Includes lists the parent profiles named by the include key
func (p *Profile) Includes() []string {
	return strings.Fields(p.spec.Include)
}

func (p *Profile) InputOptions() []string {
	return p.spec.InputOptions.Args()
}

// OutputOptions returns output_options followed by each mixin-capable
// section, replaced by the first mixin that overrides it.
func (p *Profile) OutputOptions(mixins []string) []string {
	out := p.spec.OutputOptions.Args()
	var overrides []*Profile
	if p.set != nil {
		overrides = p.set.mixinProfiles(mixins)
	}
	for _, section := range sections {
		own := p.section(section)
		if own == nil {
			continue
		}
		if mixed := firstSection(overrides, section); mixed != nil {
			out = append(out, mixed.Args()...)
			continue
		}
		out = append(out, own.Args()...)
	}
	return out
}

func (p *Profile) StreamMap(videoStream int, audio, subtitle []models.Stream) []string {
	return streamMap(videoStream, audio, subtitle, p.spec.Audio, p.spec.Subtitle)
}

func (p *Profile) section(name string) *Options {
	switch name {
	case "audio":
		return p.spec.OutputAudio
	case "video":
		return p.spec.OutputVideo
	case "subtitle":
		return p.spec.OutputSubtitle
	}
	return nil
}

func firstSection(mixins []*Profile, name string) *Options {
	for _, m := range mixins {
		if s := m.section(name); s != nil && !s.Empty() {
			return s
		}
	}
	return nil
}

// include overlays p on top of parent: option lists merge, scalar values
// already set on p win, everything else is inherited.
func (p *Profile) include(parent *Profile) {
	s, ps := &p.spec, parent.spec
	s.InputOptions.Merge(ps.InputOptions)
	s.OutputOptions.Merge(ps.OutputOptions)
	s.OutputAudio = mergeSection(s.OutputAudio, ps.OutputAudio)
	s.OutputVideo = mergeSection(s.OutputVideo, ps.OutputVideo)
	s.OutputSubtitle = mergeSection(s.OutputSubtitle, ps.OutputSubtitle)
	if s.Extension == "" {
		s.Extension = ps.Extension
	}
	if s.Queue == "" {
		s.Queue = ps.Queue
	}
	if s.Threshold == nil {
		s.Threshold = ps.Threshold
	}
	if s.ThresholdCheck == nil {
		s.ThresholdCheck = ps.ThresholdCheck
	}
	if s.Audio == nil {
		s.Audio = ps.Audio
	}
	if s.Subtitle == nil {
		s.Subtitle = ps.Subtitle
	}
}

func mergeSection(child, parent *Options) *Options {
	if parent == nil {
		return child
	}
	if child == nil {
		cp := NewOptions(parent.List()...)
		return &cp
	}
	child.Merge(*parent)
	return child
}
