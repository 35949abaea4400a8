package transcribe

import (
	"context"
	"time"

	"hanasu/internal/services"
)

// extractAudio converts a video's audio track to the mono 16 kHz 16-bit PCM
// WAV the speech-to-text tool expects.
func extractAudio(ctx context.Context, runner services.Runner, binary, source, dest string, timeout time.Duration) (string, error) {
	return runner.Run(ctx, services.Command{
		Binary: binary,
		Args: []string{
			"-y",
			"-hide_banner",
			"-loglevel", "error",
			"-i", source,
			"-vn",
			"-ac", "1",
			"-ar", "16000",
			"-c:a", "pcm_s16le",
			dest,
		},
		Timeout: timeout,
	})
}
