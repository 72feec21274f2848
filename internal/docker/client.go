package docker

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ComposeProjectLabel is the label the compose tooling sets on every
// container it creates.
const ComposeProjectLabel = "com.docker.compose.project"

// Client wraps the Docker Engine API client with convenience methods.
type Client struct {
	cli *client.Client
}

// NewClient creates a Client connected to the Docker daemon.
// socketPath defaults to /var/run/docker.sock if empty.
func NewClient(socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socketPath),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// Close releases the Docker client resources.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks if Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// ContainerInfo is a simplified container representation.
type ContainerInfo struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	State   string            `json:"state"`  // running, exited, paused, etc.
	Status  string            `json:"status"` // human-readable, e.g. "Up 2 hours"
	Project string            `json:"project"`
	Labels  map[string]string `json:"labels"`
}

// ListContainers returns all containers (including stopped).
func (c *Client) ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, err
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		result = append(result, ContainerInfo{
			ID:      ctr.ID[:12],
			Name:    name,
			Image:   ctr.Image,
			State:   ctr.State,
			Status:  ctr.Status,
			Project: ctr.Labels[ComposeProjectLabel],
			Labels:  ctr.Labels,
		})
	}
	return result, nil
}

// SystemSummary is a system-level view of the Docker daemon.
type SystemSummary struct {
	ServerVersion string `json:"server_version"`
	Containers    int    `json:"containers"`
	Running       int    `json:"running"`
	Stopped       int    `json:"stopped"`
	Images        int    `json:"images"`
}

// Info returns system-level Docker information.
func (c *Client) Info(ctx context.Context) (*SystemSummary, error) {
	info, err := c.cli.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemSummary{
		ServerVersion: info.ServerVersion,
		Containers:    info.Containers,
		Running:       info.ContainersRunning,
		Stopped:       info.ContainersStopped,
		Images:        info.Images,
	}, nil
}
