package cluster

import (
	"github.com/mlsmithjr/transcoder/pkg/models"
)

// Matcher picks the directive for a probed file. A nil directive with a nil
// error means the file should be skipped.
type Matcher interface {
	Match(media *models.MediaInfo) (models.Directive, error)
	// Candidates lists every directive Match may return
	Candidates() []models.Directive
}

// DefaultMatcher assigns one directive to every file. Files already in a
// codec listed in SkipCodecs are skipped.
type DefaultMatcher struct {
	Directive  models.Directive
	SkipCodecs []string
}

func (m *DefaultMatcher) Match(media *models.MediaInfo) (models.Directive, error) {
	if m.Directive == nil {
		return nil, ErrNoDirective
	}
	for _, codec := range m.SkipCodecs {
		if media != nil && media.VideoCodec == codec {
			return nil, nil
		}
	}
	return m.Directive, nil
}

func (m *DefaultMatcher) Candidates() []models.Directive {
	if m.Directive == nil {
		return nil
	}
	return []models.Directive{m.Directive}
}
