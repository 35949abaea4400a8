package download

import (
	"context"
	"strconv"
	"time"

	"hanasu/internal/services"
)

// Client invokes the downloader tool. The tool writes into its working
// directory and signals success solely through its exit code.
type Client struct {
	binary  string
	timeout time.Duration
	runner  services.Runner
}

// NewClient constructs a downloader client.
func NewClient(binary string, timeout time.Duration, runner services.Runner) *Client {
	if runner == nil {
		runner = services.ExecRunner{}
	}
	return &Client{binary: binary, timeout: timeout, runner: runner}
}

// Fetch downloads one episode into dir. index is the 1-based source
// selection recorded by the title-selection collaborator.
func (c *Client) Fetch(ctx context.Context, dir, title string, index, episode int) (string, error) {
	return c.runner.Run(ctx, services.Command{
		Binary: c.binary,
		Args: []string{
			"-d",
			"-e", strconv.Itoa(episode),
			"-S", strconv.Itoa(index),
			title,
		},
		Dir:     dir,
		Timeout: c.timeout,
	})
}
