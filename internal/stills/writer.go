// Package stills persists single captured frames as image files, outside
// the streaming pipeline's concurrency story.
package stills

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ktyurin/survcafe/internal/camera"
)

// Writer saves RGB frames to disk as PNG or JPEG.
type Writer struct {
	outputDir   string
	format      string
	jpegQuality int

	saved  atomic.Uint64
	failed atomic.Uint64
}

// NewWriter creates the output directory and validates the format
// ("png" or "jpeg"). JPEG quality is 1-100.
func NewWriter(outputDir, format string, jpegQuality int) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("stills: failed to create output directory: %w", err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("stills: unsupported format: %s (must be png or jpeg)", format)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 85
	}
	return &Writer{outputDir: outputDir, format: format, jpegQuality: jpegQuality}, nil
}

// Save writes one frame. The caller must hold a reference on the frame's
// handle for the duration of the call.
//
// Filename: frame_{seq:06d}_{timestamp}.{ext}
func (w *Writer) Save(frame *camera.Frame) (string, error) {
	img, err := rgbToRGBA(frame)
	if err != nil {
		w.failed.Add(1)
		return "", err
	}

	filename := fmt.Sprintf("frame_%06d_%s.%s",
		frame.Seq,
		frame.Timestamp.Format("20060102_150405.000"),
		ext(w.format))
	path := filepath.Join(w.outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		w.failed.Add(1)
		return "", fmt.Errorf("stills: failed to create file: %w", err)
	}
	defer file.Close()

	switch w.format {
	case "png":
		err = png.Encode(file, img)
	case "jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: w.jpegQuality})
	}
	if err != nil {
		w.failed.Add(1)
		return "", fmt.Errorf("stills: %s encode failed: %w", w.format, err)
	}

	w.saved.Add(1)
	return path, nil
}

func ext(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// rgbToRGBA converts packed RGB (3 bytes/pixel) to image.RGBA.
func rgbToRGBA(frame *camera.Frame) (*image.RGBA, error) {
	data := frame.Plane(camera.StreamVideo)
	expected := frame.Width * frame.Height * 3
	if len(data) < expected {
		return nil, fmt.Errorf("stills: invalid RGB data size: got %d, expected %d",
			len(data), expected)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = data[i*3+0]
		img.Pix[i*4+1] = data[i*3+1]
		img.Pix[i*4+2] = data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// Stats returns save counters.
func (w *Writer) Stats() (saved, failed uint64) {
	return w.saved.Load(), w.failed.Load()
}
