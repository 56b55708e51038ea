// internal/renderer/renderer.go
package renderer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	ScriptName = "script.py"
	LogName    = "render.log"
	MediaDir   = "media"
)

// Status is the outcome of one render invocation
type Status string

const (
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
)

// qualityDirs maps Manim's -q flags to the directory names Manim writes into
var qualityDirs = map[string]string{
	"l": "480p15",
	"m": "720p30",
	"h": "1080p60",
	"p": "1440p60",
	"k": "2160p60",
}

// QualityDir returns the media subdirectory Manim uses for quality
func QualityDir(quality string) (string, error) {
	dir, ok := qualityDirs[quality]
	if !ok {
		return "", fmt.Errorf("unknown render quality %q", quality)
	}
	return dir, nil
}

// Job describes one render. WorkDir is the absolute host path of the run
// directory holding ScriptName; it is mounted into the container.
type Job struct {
	RunID      string
	WorkDir    string
	Quality    string
	Scene      string
	OutputName string
}

// OutputDir is where Manim places the video for this job on the host
func (j Job) OutputDir() (string, error) {
	qdir, err := QualityDir(j.Quality)
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(ScriptName, filepath.Ext(ScriptName))
	return filepath.Join(j.WorkDir, MediaDir, "videos", stem, qdir), nil
}

// ExpectedArtifact is the full path of the video the job should produce
func (j Job) ExpectedArtifact() (string, error) {
	dir, err := j.OutputDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, j.outputName()+".mp4"), nil
}

func (j Job) outputName() string {
	if j.OutputName != "" {
		return j.OutputName
	}
	if j.Scene != "" {
		return j.Scene
	}
	return "animation"
}

// Command is the manim invocation executed inside the container, with the run
// directory mounted at root
func (j Job) Command(root string) []string {
	cmd := []string{
		"manim",
		"-q" + j.Quality,
		"--media_dir", root + "/" + MediaDir,
		"-o", j.outputName(),
		root + "/" + ScriptName,
	}
	if j.Scene != "" {
		cmd = append(cmd, j.Scene)
	}
	return cmd
}

// Validate checks the fields every renderer relies on
func (j Job) Validate() error {
	if j.RunID == "" {
		return fmt.Errorf("render job has no run id")
	}
	if !filepath.IsAbs(j.WorkDir) {
		return fmt.Errorf("render work dir must be absolute: %q", j.WorkDir)
	}
	if _, err := QualityDir(j.Quality); err != nil {
		return err
	}
	return nil
}

// Result is what a renderer reports back
type Result struct {
	Status           Status        `json:"status"`
	ExitCode         int64         `json:"exit_code"`
	Stdout           string        `json:"stdout"`
	Stderr           string        `json:"stderr"`
	Duration         time.Duration `json:"duration"`
	ExpectedArtifact string        `json:"expected_artifact"`
	OutputDir        string        `json:"output_dir"`
}

// TimedOut reports whether the render was stopped at its time limit
func (r *Result) TimedOut() bool {
	return r != nil && r.Status == StatusTimedOut
}

// Succeeded reports a completed render with exit code 0
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusCompleted && r.ExitCode == 0
}

// FormatLog renders the captured streams as labeled sections
func FormatLog(stdout, stderr string) []byte {
	var b strings.Builder
	b.WriteString("STDOUT:\n")
	b.WriteString(stdout)
	b.WriteString("\n")
	b.WriteString("STDERR:\n")
	b.WriteString(stderr)
	b.WriteString("\n")
	return []byte(b.String())
}

// Renderer executes Manim scripts
type Renderer interface {
	Render(ctx context.Context, job Job) (*Result, error)

	// Check verifies the rendering backend is reachable
	Check(ctx context.Context) error
}
