package pipeline

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// Run is the external command a step invokes.
type Run struct {
	Path string   `json:"path" validate:"required" yaml:"path"`
	Args []string `json:"args" yaml:"args"`
}

// ArtifactConfig declares a step output. In YAML it is either a plain
// path (globs allowed) or a mapping with an expected content hash:
//
//	artifacts:
//	  - /opt/forge/vmaf/lib/*.so
//	  - path: /usr/local/bin/ffmpeg
//	    sha256: ab12...
type ArtifactConfig struct {
	Path   string `json:"path"   validate:"required" yaml:"path"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

func (a *ArtifactConfig) UnmarshalYAML(data []byte) error {
	var path string

	if err := yaml.Unmarshal(data, &path); err == nil {
		a.Path = path

		return nil
	}

	type plain ArtifactConfig

	var full plain

	err := yaml.Unmarshal(data, &full)
	if err != nil {
		return fmt.Errorf("could not unmarshal artifact: %w", err)
	}

	*a = ArtifactConfig(full)

	return nil
}

// StepConfig is one step of the pipeline definition.
type StepConfig struct {
	Name          string            `json:"name"           validate:"required"      yaml:"name"`
	Needs         []string          `json:"needs"          yaml:"needs"`
	Run           Run               `json:"run"            validate:"required"      yaml:"run"`
	Dir           string            `json:"dir"            yaml:"dir"`
	Env           map[string]string `json:"env"            yaml:"env"`
	Artifacts     []ArtifactConfig  `json:"artifacts"      validate:"dive"          yaml:"artifacts"`
	InstallPrefix string            `json:"install_prefix" yaml:"install_prefix"`
	Attempts      int               `json:"attempts"       validate:"gte=0,lte=10"  yaml:"attempts"`
	Fatal         *bool             `json:"fatal"          yaml:"fatal"`
	Timeout       string            `json:"timeout"        yaml:"timeout"`
	When          string            `json:"when"           yaml:"when"`
}

// Config is the root of a pipeline definition file.
type Config struct {
	Name          string            `json:"name"            validate:"required"            yaml:"name"`
	Env           map[string]string `json:"env"             yaml:"env"`
	OutputLimitKB int               `json:"output_limit_kb" validate:"gte=0"               yaml:"output_limit_kb"`
	Steps         []StepConfig      `json:"steps"           validate:"required,min=1,dive" yaml:"steps"`
}
