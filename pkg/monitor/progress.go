package monitor

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// statusPattern matches ffmpeg's periodic status line, e.g.
// frame=  307 fps= 86 q=-0.0 size=    3481kB time=00:00:13.03 bitrate=2187.9kbits/s speed=3.67x
var statusPattern = regexp.MustCompile(
	`^.* fps=\s*(?P<fps>.+?) q=(?P<q>.+\.\d) size=\s*(?P<size>\d+?)(?:kB|KiB) time=(?P<time>\d\d:\d\d:\d\d\.\d\d) .*speed=(?P<speed>.*?)x`)

// Sample is one progress reading taken from encoder output
type Sample struct {
	FPS   float64
	Size  int64   // output bytes so far
	Time  int     // seconds of media encoded so far
	Speed float64 // multiple of realtime
}

// ParseSample extracts a Sample from a status line
func ParseSample(line string) (Sample, bool) {
	m := statusPattern.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}
	group := func(name string) string {
		return strings.TrimSpace(m[statusPattern.SubexpIndex(name)])
	}

	kb, err := strconv.ParseInt(group("size"), 10, 64)
	if err != nil {
		return Sample{}, false
	}
	secs, err := parseClock(group("time"))
	if err != nil {
		return Sample{}, false
	}
	fps, _ := strconv.ParseFloat(group("fps"), 64)
	speed, _ := strconv.ParseFloat(group("speed"), 64)
	return Sample{FPS: fps, Size: kb * 1024, Time: secs, Speed: speed}, true
}

// parseClock converts HH:MM:SS.ss to whole seconds, dropping the fraction
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	sec, _, _ := strings.Cut(parts[2], ".")
	ss, err := strconv.Atoi(sec)
	if err != nil {
		return 0, err
	}
	return hh*3600 + mm*60 + ss, nil
}

// CalculateProgress returns the percentage of the source encoded so far and
// the compression achieved on that portion, extrapolated from the source
// size. Both are zero until enough of the source has been read to measure.
func CalculateProgress(media *models.MediaInfo, s Sample) (pctDone, pctComp int) {
	if media.Runtime > 0 {
		pctDone = int(float64(s.Time) / float64(media.Runtime) * 100)
	}

	sourceBytes := float64(media.FileSizeMB) * 1024000
	pctSource := int64(sourceBytes * (float64(pctDone) / 100.0))
	if pctSource <= 0 {
		return 0, 0
	}
	pctDest := int(float64(s.Size) / float64(pctSource) * 100)
	return pctDone, 100 - pctDest
}

// MeetsThreshold reports whether shrinking origSize to newSize saved at
// least threshold percent. A threshold of zero always passes.
func MeetsThreshold(threshold int, origSize, newSize int64) bool {
	if threshold <= 0 || origSize <= 0 {
		return true
	}
	savings := 100 - newSize*100/origSize
	return savings >= int64(threshold)
}

// FileMeetsThreshold applies MeetsThreshold to two files on disk
func FileMeetsThreshold(threshold int, inPath, outPath string) (bool, error) {
	if threshold <= 0 {
		return true, nil
	}
	in, err := os.Stat(inPath)
	if err != nil {
		return false, err
	}
	out, err := os.Stat(outPath)
	if err != nil {
		return false, err
	}
	return MeetsThreshold(threshold, in.Size(), out.Size()), nil
}
