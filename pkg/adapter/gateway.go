// Package adapter invokes external participant programs. The contract is
// deliberately small: the trigger payload goes to the subprocess as JSON on
// stdin, the reply comes back as text on stdout, and a non-zero exit means
// failure. Stderr is captured for logs only.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"bridged/pkg/config"
	"bridged/pkg/models"
)

// Payload is what an adapter subprocess receives on stdin.
type Payload struct {
	Thread struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"thread"`
	Trigger       models.Event   `json:"trigger"`
	ContextWindow []models.Event `json:"context_window"`
	Target        struct {
		ID      string         `json:"id"`
		Profile models.Profile `json:"profile"`
	} `json:"target"`
}

// ErrNoAdapter is returned when no adapter is configured for a target id.
var ErrNoAdapter = errors.New("no adapter configured")

// Gateway produces a reply for a target given a trigger payload.
type Gateway interface {
	Invoke(ctx context.Context, target string, payload Payload) (string, error)
}

// ExecGateway runs one configured subprocess per invocation.
type ExecGateway struct {
	Adapters map[string]config.AdapterConfig
}

func (g *ExecGateway) Invoke(ctx context.Context, target string, payload Payload) (string, error) {
	ac, ok := g.Adapters[target]
	if !ok || len(ac.Command) == 0 {
		return "", fmt.Errorf("%w for %q", ErrNoAdapter, target)
	}
	in, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, ac.Command[0], ac.Command[1:]...)
	if ac.Cwd != "" {
		cmd.Dir = ac.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range ac.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("adapter %q timed out: %w", target, ctx.Err())
		}
		return "", fmt.Errorf("adapter %q failed: %w (stderr: %s)", target, err, firstLine(stderr.String()))
	}
	reply := strings.TrimSpace(stdout.String())
	if reply == "" {
		return "", fmt.Errorf("adapter %q produced no output", target)
	}
	return reply, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
