package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kikiluvv/framecut/internal/timeline"
)

var errSourceNotAllowed = errors.New("source not allowed")

// protocolPrefix matches ffmpeg style protocol sources such as "concat:" or "rtmp://".
// Single letters are left alone so drive letters still read as paths.
var protocolPrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]+:`)

// checkSources confines clip sources to MediaRoot. Remote http(s) sources
// pass only with AllowRemote. Without a MediaRoot every source is accepted.
func (s *Server) checkSources(tl *timeline.Timeline) error {
	if s.opts.MediaRoot == "" {
		return nil
	}
	root, err := filepath.Abs(s.opts.MediaRoot)
	if err != nil {
		return fmt.Errorf("invalid media root: %w", err)
	}

	for _, tr := range tl.Tracks {
		if tr == nil {
			continue
		}
		for _, c := range tr.Clips {
			if c == nil || c.Source == "" {
				continue
			}
			if err := s.checkSource(root, c.Source); err != nil {
				return fmt.Errorf("%w: clip %s: %v", errSourceNotAllowed, c.ID, err)
			}
		}
	}
	return nil
}

func (s *Server) checkSource(root, source string) error {
	lower := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		if !s.opts.AllowRemote {
			return errors.New("remote sources are disabled")
		}
		return nil
	case strings.HasPrefix(lower, "file://"):
		source = source[len("file://"):]
	case protocolPrefix.MatchString(source):
		return errors.New("unsupported protocol")
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s is outside the media root", source)
	}
	return nil
}

// allowSources writes a 403 and reports false when a source is rejected
func (s *Server) allowSources(w http.ResponseWriter, tl *timeline.Timeline) bool {
	if err := s.checkSources(tl); err != nil {
		WriteError(w, http.StatusForbidden, err.Error(), "SOURCE_NOT_ALLOWED")
		return false
	}
	return true
}
