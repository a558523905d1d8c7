package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// runtime is the part of the Docker API the pool needs.
type runtime interface {
	create(ctx context.Context) (string, error)
	remove(id string)
}

// Pool keeps PoolSize started containers ready so a recognition does not
// pay for container start-up. Each container is used once and then removed;
// the manager goroutine replaces it.
type Pool struct {
	rt         runtime
	size       int
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once

	// backoff after a failed create; shortened in tests.
	backoff time.Duration
	// idle poll interval while the pool is full.
	idle time.Duration
}

func newPool(rt runtime, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		rt:         rt,
		size:       size,
		logger:     logger,
		containers: make(chan string, size),
		done:       make(chan struct{}),
		backoff:    time.Second,
		idle:       100 * time.Millisecond,
	}
}

// Start launches the manager. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting OCR container pool", slog.Int("poolSize", p.size))
		p.wg.Add(1)
		go p.manage()
	})
}

// Stop ends the manager and removes every idle container.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down OCR container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.rt.remove(id)
			default:
				return
			}
		}
	})
}

// Acquire blocks until a warm container is available or ctx ends. The
// caller owns the container and must remove it.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Pool) manage() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if len(p.containers) >= cap(p.containers) {
			p.sleep(p.idle)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		id, err := p.rt.create(ctx)
		cancel()
		if err != nil {
			p.logger.Error("failed to create OCR container", slog.String("error", err.Error()))
			p.sleep(p.backoff)
			continue
		}

		select {
		case p.containers <- id:
		case <-p.done:
			p.rt.remove(id)
			return
		}
	}
}

// sleep waits for d unless the pool is stopped first.
func (p *Pool) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.done:
	}
}

// dockerRuntime creates idle tesseract containers: no network, read-only
// root filesystem, unprivileged user, waiting on `sleep infinity` for execs.
type dockerRuntime struct {
	cli    *client.Client
	config Config
}

func (d dockerRuntime) create(ctx context.Context) (string, error) {
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   d.config.MemoryLimit,
			NanoCPUs: int64(d.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      d.config.Image,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		User:       "nobody",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.remove(resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	return resp.ID, nil
}

func (d dockerRuntime) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}
