// Package images produces post image thumbnails by shelling out to ffmpeg.
package images

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Thumbnailer scales an image file down to a thumbnail. FFmpeg is the
// production implementation; tests plug in a stub.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, inputPath, outputPath string) error
}

// FFmpeg runs the ffmpeg binary to scale images
type FFmpeg struct {
	// longest output edge in pixels
	MaxEdge int
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{MaxEdge: 320}
}

// CheckBinary verifies ffmpeg is installed; worker startup calls this so a
// missing binary fails fast instead of dead-lettering every thumbnail task
func (f *FFmpeg) CheckBinary() error {
	if err := exec.Command("ffmpeg", "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

// Thumbnail scales inputPath so its longest edge is at most MaxEdge,
// preserving aspect ratio, and writes the result to outputPath
func (f *FFmpeg) Thumbnail(ctx context.Context, inputPath, outputPath string) error {
	edge := f.MaxEdge
	if edge <= 0 {
		edge = 320
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		// scale the longest edge down, never up
		"-vf", fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", edge, edge),
		"-frames:v", "1",
		"-q:v", "4",
		"-y",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed: %v, stderr: %s", err, stderr.String())
	}
	return nil
}
