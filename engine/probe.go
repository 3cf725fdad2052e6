package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Probe checks whether a step's declared artifacts already exist, to
// support skip-on-resume. Probing is read-only and never fails the
// pipeline: anything indeterminate (permission error, unreadable file)
// degrades to Absent, which only triggers a rebuild.
type Probe struct {
	logger *slog.Logger
}

func NewProbe(logger *slog.Logger) *Probe {
	return &Probe{
		logger: logger.WithGroup("probe"),
	}
}

// Present reports whether every declared artifact of the step exists and,
// where a hash is declared, matches. A step with no artifacts is never
// Present: it runs every time.
func (p *Probe) Present(step *Step) bool {
	if len(step.Artifacts) == 0 {
		return false
	}

	for _, artifact := range step.Artifacts {
		if !p.artifactPresent(step.Name, artifact) {
			return false
		}
	}

	p.logger.Debug("artifact.present", "step", step.Name)

	return true
}

func (p *Probe) artifactPresent(stepName string, artifact Artifact) bool {
	if isGlob(artifact.Path) {
		matches, err := doublestar.FilepathGlob(artifact.Path)
		if err != nil {
			p.logger.Debug("artifact.glob.indeterminate", "step", stepName, "pattern", artifact.Path, "err", err)

			return false
		}

		return len(matches) > 0
	}

	info, err := os.Stat(artifact.Path)
	if err != nil {
		p.logger.Debug("artifact.absent", "step", stepName, "path", artifact.Path, "err", err)

		return false
	}

	if info.IsDir() {
		return artifact.SHA256 == ""
	}

	if artifact.SHA256 == "" {
		return true
	}

	actual, err := hashFile(artifact.Path)
	if err != nil {
		p.logger.Debug("artifact.hash.indeterminate", "step", stepName, "path", artifact.Path, "err", err)

		return false
	}

	if !strings.EqualFold(actual, artifact.SHA256) {
		p.logger.Debug("artifact.hash.mismatch", "step", stepName, "path", artifact.Path)

		return false
	}

	return true
}

func isGlob(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open artifact: %w", err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()

	_, err = io.Copy(hasher, file)
	if err != nil {
		return "", fmt.Errorf("could not hash artifact: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
