// Package worker runs detection and recognition models in a child process
// speaking length-prefixed msgpack over stdin and stdout.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"platewatch/internal/domain/anpr"
)

var errClosed = errors.New("worker closed")

type Config struct {
	Command string
	Args    []string
}

// Client multiplexes requests over one worker process. Responses are matched
// to requests by id; a response whose caller already gave up is dropped.
type Client struct {
	cmd *exec.Cmd
	in  io.WriteCloser

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	readErr error
	done    chan struct{}

	closeOnce sync.Once
	log       zerolog.Logger
}

// Start spawns the worker process.
func Start(cfg Config, log zerolog.Logger) (*Client, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start worker %q: %w", anpr.ErrUpstream, cfg.Command, err)
	}

	log = log.With().Str("component", "worker").Int("pid", cmd.Process.Pid).Logger()
	log.Info().Str("command", cfg.Command).Strs("args", cfg.Args).Msg("worker process spawned")

	c := newClient(stdin, stdout, log)
	c.cmd = cmd
	go c.logStderr(stderr)
	return c, nil
}

func newClient(in io.WriteCloser, out io.Reader, log zerolog.Logger) *Client {
	c := &Client{
		in:      in,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
		log:     log,
	}
	go c.readLoop(out)
	return c
}

// Ping checks the worker answers at all.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, OpPing, nil)
	return err
}

func (c *Client) call(ctx context.Context, op string, image []byte) (Response, error) {
	req := Request{ID: uuid.NewString(), Op: op, Image: image}
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return Response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	writeErr := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		writeErr <- writeMessage(c.in, req)
	}()

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case err := <-writeErr:
		if err != nil {
			return Response{}, fmt.Errorf("%w: %s request: %w", anpr.ErrUpstream, op, err)
		}
	}

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-c.done:
		return Response{}, c.failure()
	case resp := <-ch:
		if resp.Error != "" {
			return Response{}, fmt.Errorf("%w: worker %s: %s", anpr.ErrUpstream, op, resp.Error)
		}
		return resp, nil
	}
}

func (c *Client) readLoop(r io.Reader) {
	for {
		var resp Response
		if err := readMessage(r, &resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				err = errClosed
			}
			c.mu.Lock()
			c.readErr = fmt.Errorf("%w: %w", anpr.ErrUpstream, err)
			c.mu.Unlock()
			close(c.done)
			c.log.Warn().Err(err).Msg("worker output closed")
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			c.log.Debug().Str("request_id", resp.ID).Msg("discarding stale worker response")
			continue
		}
		ch <- resp
	}
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			c.log.Error().Str("log", line).Msg("worker error")
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			c.log.Warn().Str("log", line).Msg("worker warning")
		default:
			c.log.Debug().Str("log", line).Msg("worker log")
		}
	}
}

// Close closes the worker's stdin and waits briefly for it to exit before
// killing it.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.in.Close()
		if c.cmd == nil {
			return
		}

		exited := make(chan error, 1)
		go func() { exited <- c.cmd.Wait() }()
		select {
		case <-exited:
			c.log.Info().Msg("worker stopped")
		case <-time.After(2 * time.Second):
			c.log.Warn().Msg("worker stop timeout, killing process")
			if killErr := c.cmd.Process.Kill(); killErr != nil {
				err = killErr
			}
			<-exited
		}
	})
	return err
}
