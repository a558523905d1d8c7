// Package docker runs tesseract inside short-lived, network-less containers.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/inforx/internal/ocr"
)

var _ ocr.Engine = (*Engine)(nil)

// Engine implements ocr.Engine by piping the image to `tesseract stdin stdout`
// in a pooled container.
type Engine struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New connects to the Docker daemon from the environment, pulls the image
// and starts the warm pool.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info("ensuring OCR image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	// Drain to block until the pull completes.
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()
	logger.Info("OCR image is ready")

	e := &Engine{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   newPool(dockerRuntime{cli: cli, config: cfg}, cfg.PoolSize, logger),
	}
	e.pool.Start()

	return e, nil
}

// Close stops the pool and the docker client.
func (e *Engine) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// Recognize runs tesseract over image and parses its TSV output.
func (e *Engine) Recognize(ctx context.Context, img []byte, lang string) (*ocr.Result, error) {
	if len(img) == 0 {
		return nil, errors.New("ocr: empty image")
	}
	if lang == "" {
		lang = ocr.LangEnglish
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	containerID, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}
	defer e.pool.rt.remove(containerID)

	start := time.Now()

	execResp, err := e.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"tesseract", "stdin", "stdout", "-l", lang, "tsv"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	if _, err := attachResp.Conn.Write(img); err != nil {
		return nil, fmt.Errorf("failed to send image: %w", err)
	}
	if err := attachResp.CloseWrite(); err != nil {
		return nil, fmt.Errorf("failed to close stdin: %w", err)
	}

	var stdout, stderr bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("ocr timed out after %s: %w", e.config.Timeout, ctx.Err())
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return nil, fmt.Errorf("tesseract exited with %d: %s", inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}

	res := ocr.ParseTSV(stdout.String())
	e.logger.Debug("ocr finished",
		slog.Int("bytes", len(img)),
		slog.Float64("confidence", res.Confidence),
		slog.Duration("duration", time.Since(start)),
	)
	return &res, nil
}
