package transcribe

import (
	"context"
	"time"

	"hanasu/internal/services"
)

// runWhisper transcribes audio into outputDir. The tool names its output
// after the audio file's stem, which matches the canonical episode name, so
// the transcript lands directly at its final path.
func runWhisper(ctx context.Context, runner services.Runner, binary, audio, outputDir, model, language string, timeout time.Duration) (string, error) {
	return runner.Run(ctx, services.Command{
		Binary: binary,
		Args: []string{
			audio,
			"--model", model,
			"--language", language,
			"--output_dir", outputDir,
			"--output_format", "txt",
			"--verbose", "False",
		},
		Timeout: timeout,
	})
}
