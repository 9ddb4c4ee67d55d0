package profile

import (
	"fmt"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// streamMap builds explicit -map arguments for a multi-stream source. With
// no language filters every stream is mapped.
func streamMap(videoStream int, audio, subtitle []models.Stream, audioLangs, subLangs *Languages) []string {
	if !audioLangs.filtered() && !subLangs.filtered() {
		return []string{"-map", "0"}
	}
	args := []string{"-map", fmt.Sprintf("0:%d", videoStream)}
	args = append(args, mapStreams("a", audio, audioLangs)...)
	args = append(args, mapStreams("s", subtitle, subLangs)...)
	return args
}

// mapStreams maps the tracks whose language passes the filter. Includes take
// precedence over excludes. When a default track is dropped, tracks in the
// default language are marked default instead.
func mapStreams(kind string, streams []models.Stream, langs *Languages) []string {
	if langs == nil {
		langs = &Languages{}
	}
	excluded := toSet(langs.Exclude)
	included := toSet(langs.Include)

	var args []string
	var mapped []models.Stream
	reassign := false
	for _, s := range streams {
		lang := s.Lang
		if lang == "" {
			lang = "none"
		}
		if len(included) > 0 && !included[lang] {
			reassign = reassign || s.Default
			continue
		}
		if excluded[lang] {
			reassign = reassign || s.Default
			continue
		}
		mapped = append(mapped, s)
		args = append(args, "-map", fmt.Sprintf("0:%d", s.Index))
	}

	if reassign && langs.Default != "" {
		for i, s := range mapped {
			if s.Lang == langs.Default {
				args = append(args, fmt.Sprintf("-disposition:%s:%d", kind, i), "default")
			}
		}
	}
	return args
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}
