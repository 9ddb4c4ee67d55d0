package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// ErrNotMedia is returned when a file has no video stream
var ErrNotMedia = errors.New("no video stream found")

// Prober extracts MediaInfo from a source file
type Prober interface {
	Probe(ctx context.Context, path string) (*models.MediaInfo, error)
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	PixFmt       string            `json:"pix_fmt"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Tags         map[string]string `json:"tags"`
	Disposition  struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

// FFprobe probes files with the ffprobe executable
type FFprobe struct {
	path string
}

// NewFFprobe returns a prober. If path is empty, ffprobe is looked up next
// to ffmpegPath, then on PATH.
func NewFFprobe(path, ffmpegPath string) *FFprobe {
	if path == "" && ffmpegPath != "" {
		dir, base := filepath.Split(ffmpegPath)
		if strings.Contains(base, "ffmpeg") {
			candidate := filepath.Join(dir, strings.Replace(base, "ffmpeg", "ffprobe", 1))
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

// Probe runs ffprobe against path and decodes its JSON report
func (f *FFprobe) Probe(ctx context.Context, path string) (*models.MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, f.path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run ffprobe on %s: %w", path, err)
	}
	return Parse(path, output)
}

// Parse converts ffprobe JSON into MediaInfo
func Parse(path string, data []byte) (*models.MediaInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &models.MediaInfo{Path: path, VideoStream: -1}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		info.Runtime = int(d)
	}
	if size, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
		info.FileSizeMB = int(size / (1024 * 1024))
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			// cover art is also reported as a video stream
			if info.VideoStream >= 0 || s.CodecName == "mjpeg" || s.CodecName == "png" {
				continue
			}
			info.VideoStream = s.Index
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.Colorspace = s.PixFmt
			info.FPS = frameRate(s.AvgFrameRate)
		case "audio":
			info.Audio = append(info.Audio, toStream(s))
		case "subtitle":
			info.Subtitle = append(info.Subtitle, toStream(s))
		}
	}
	if info.VideoStream < 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNotMedia)
	}
	return info, nil
}

func toStream(s ffprobeStream) models.Stream {
	return models.Stream{
		Index:   s.Index,
		Lang:    s.Tags["language"],
		Codec:   s.CodecName,
		Default: s.Disposition.Default == 1,
	}
}

// frameRate parses "num/den" into whole frames per second
func frameRate(r string) int {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		v, _ := strconv.ParseFloat(r, 64)
		return int(v)
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return int(n/d + 0.5)
}
