package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/casadock/casadock/internal/docker"
)

// StatusOf returns the derived status and container count for one stack.
func (r *Registry) StatusOf(ctx context.Context, name string) (*Stack, error) {
	st, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	r.enrichStatus(ctx, []*Stack{st})
	return st, nil
}

// enrichStatus fills Status and Containers from one Docker container
// listing. A daemon error leaves every stack at "unknown".
func (r *Registry) enrichStatus(ctx context.Context, stacks []*Stack) {
	if r.docker == nil || len(stacks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	containers, err := r.docker.ListContainers(ctx, true)
	if err != nil {
		r.logger.Warn("container listing failed, stack status unknown", "err", err)
		return
	}

	type counts struct{ total, running int }
	byProject := make(map[string]counts)
	for _, c := range containers {
		if c.Project == "" {
			continue
		}
		cnt := byProject[c.Project]
		cnt.total++
		if c.State == "running" {
			cnt.running++
		}
		byProject[c.Project] = cnt
	}

	for _, st := range stacks {
		// Compose normalizes project names to lowercase.
		cnt, ok := byProject[st.Name]
		if !ok {
			cnt = byProject[strings.ToLower(st.Name)]
		}
		st.Containers = cnt.total
		switch {
		case cnt.total == 0:
			st.Status = "stopped"
		case cnt.running == cnt.total:
			st.Status = "running"
		case cnt.running > 0:
			st.Status = "partial"
		default:
			st.Status = "stopped"
		}
	}
}

// DockerInfo exposes the daemon summary for the status API.
func (r *Registry) DockerInfo(ctx context.Context) (*docker.SystemSummary, error) {
	if r.docker == nil {
		return nil, errors.New("docker daemon not configured")
	}
	return r.docker.Info(ctx)
}
