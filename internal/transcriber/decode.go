package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Decoder turns an audio file into 16 kHz mono float32 samples.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float32, error)
}

// FFmpegDecoder shells out to ffmpeg to decode arbitrary container formats
// into raw PCM. It handles every format the recording service cooks.
type FFmpegDecoder struct {
	// Binary overrides the ffmpeg executable path. Empty uses "ffmpeg"
	// from PATH.
	Binary string

	// SampleRate is the output rate. Zero uses 16 kHz, the recognition
	// model's native rate.
	SampleRate int
}

var _ Decoder = (*FFmpegDecoder)(nil)

// Decode implements Decoder.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string) ([]float32, error) {
	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	rate := d.SampleRate
	if rate <= 0 {
		rate = modelSampleRate
	}

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"pipe:1",
	)
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode %q: %w: %s", path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return pcmToFloat32(out.Bytes()), nil
}
