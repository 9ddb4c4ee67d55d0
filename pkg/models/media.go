package models

import (
	"fmt"
	"strings"
	"time"
)

// Stream is one audio or subtitle track of a media file
type Stream struct {
	Index   int    `json:"index"`
	Lang    string `json:"lang"`
	Codec   string `json:"codec,omitempty"`
	Default bool   `json:"default"`
}

// MediaInfo describes a probed source file
type MediaInfo struct {
	Path        string   `json:"path"`
	VideoCodec  string   `json:"vcodec"`
	VideoStream int      `json:"stream"`
	Width       int      `json:"res_width"`
	Height      int      `json:"res_height"`
	FPS         int      `json:"fps"`
	Colorspace  string   `json:"colorspace,omitempty"`
	Runtime     int      `json:"runtime"` // seconds
	FileSizeMB  int      `json:"filesize_mb"`
	Audio       []Stream `json:"audio"`
	Subtitle    []Stream `json:"subtitle"`
}

// IsMultistream reports whether the file carries more than one audio or
// subtitle track.
func (m *MediaInfo) IsMultistream() bool {
	return len(m.Audio) > 1 || len(m.Subtitle) > 1
}

func (m *MediaInfo) String() string {
	tracks := func(streams []Stream) string {
		parts := make([]string, 0, len(streams))
		for _, s := range streams {
			parts = append(parts, fmt.Sprintf("%d:%s:%s:%t", s.Index, s.Lang, s.Codec, s.Default))
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	runtime := time.Duration(m.Runtime) * time.Second
	return fmt.Sprintf("MediaInfo: %s, %dmb, %d fps, %dx%d, %s, c:v=%s, audio=%s, sub=%s",
		m.Path, m.FileSizeMB, m.FPS, m.Width, m.Height, runtime, m.VideoCodec,
		tracks(m.Audio), tracks(m.Subtitle))
}
