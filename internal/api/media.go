package api

import (
	"path/filepath"
	"strings"
)

// resolveMedia maps a client media_path to a file under the media root.
// Relative paths are taken from the root; symlinks are followed before the
// containment check so a link cannot point outside it.
func (s *Server) resolveMedia(p string) (string, error) {
	if s.mediaRoot == "" {
		return "", newInvalidRequest("media is not enabled on this server")
	}
	root, err := filepath.EvalSymlinks(s.mediaRoot)
	if err != nil {
		s.log.Error("media root unavailable", "root", s.mediaRoot, "error", err)
		return "", newInvalidRequest("media is not enabled on this server")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(p))
	if err != nil {
		return "", newInvalidRequest("media_path not found under the media root")
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", newInvalidRequest("media_path not found under the media root")
	}
	return resolved, nil
}
