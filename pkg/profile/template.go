package profile

import (
	"strings"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// TemplateCLI holds the encoder arguments of a template, grouped by purpose
type TemplateCLI struct {
	InputOptions []string `yaml:"input-options"`
	VideoCodec   string   `yaml:"video-codec"`
	AudioCodec   string   `yaml:"audio-codec"`
	Subtitles    string   `yaml:"subtitles"`
}

// TemplateSpec is the configuration document for one template
type TemplateSpec struct {
	CLI            *TemplateCLI `yaml:"cli"`
	Extension      string       `yaml:"extension"`
	Queue          string       `yaml:"queue"`
	Threshold      int          `yaml:"threshold"`
	ThresholdCheck *int         `yaml:"threshold_check"`
	Audio          *Languages   `yaml:"audio"`
	Subtitle       *Languages   `yaml:"subtitle"`
}

// Template is a Directive assembled from codec-level arguments. Templates
// do not take mixins.
type Template struct {
	name string
	spec TemplateSpec
}

func (t *Template) Name() string      { return t.name }
func (t *Template) Extension() string { return t.spec.Extension }
func (t *Template) QueueName() string { return t.spec.Queue }
func (t *Template) Threshold() int    { return t.spec.Threshold }

func (t *Template) ThresholdCheck() int {
	if t.spec.ThresholdCheck == nil {
		return 100
	}
	return *t.spec.ThresholdCheck
}

func (t *Template) InputOptions() []string {
	var args []string
	for _, opt := range t.spec.CLI.InputOptions {
		args = append(args, strings.Fields(opt)...)
	}
	return args
}

func (t *Template) OutputOptions([]string) []string {
	var args []string
	for _, part := range []string{t.spec.CLI.VideoCodec, t.spec.CLI.AudioCodec, t.spec.CLI.Subtitles} {
		args = append(args, strings.Fields(part)...)
	}
	return args
}

func (t *Template) StreamMap(videoStream int, audio, subtitle []models.Stream) []string {
	return streamMap(videoStream, audio, subtitle, t.spec.Audio, t.spec.Subtitle)
}
