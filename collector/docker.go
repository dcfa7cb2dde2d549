package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ContainerAnnotator maps host PIDs to the name of the container running them
type ContainerAnnotator struct {
	cli *client.Client
	log *zap.Logger
}

func NewContainerAnnotator(log *zap.Logger) (*ContainerAnnotator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker connect failed: %w", err)
	}
	return &ContainerAnnotator{cli: cli, log: log}, nil
}

// Containers lists running containers and the host PIDs inside each. A
// container whose process list cannot be read is left out and its error
// is returned alongside the partial map.
func (a *ContainerAnnotator) Containers(ctx context.Context) (map[int32]string, error) {
	list, err := a.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("container list failed: %w", err)
	}

	pids := make(map[int32]string)
	var errs error

	for _, c := range list {
		name := containerName(c.Names, c.ID)

		top, err := a.cli.ContainerTop(ctx, c.ID, nil)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("container top %s: %w", name, err))
			continue
		}
		addTopPIDs(pids, name, top.Titles, top.Processes)
	}

	a.log.Debug("container annotation", zap.Int("containers", len(list)), zap.Int("pids", len(pids)))
	return pids, errs
}

func (a *ContainerAnnotator) Close() error {
	return a.cli.Close()
}

func containerName(names []string, id string) string {
	if len(names) > 0 {
		return strings.TrimPrefix(names[0], "/")
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// addTopPIDs reads the PID column of a `docker top` table into pids
func addTopPIDs(pids map[int32]string, name string, titles []string, rows [][]string) {
	col := -1
	for i, title := range titles {
		if strings.EqualFold(strings.TrimSpace(title), "PID") {
			col = i
			break
		}
	}
	if col < 0 {
		return
	}

	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		pid, err := strconv.ParseInt(strings.TrimSpace(row[col]), 10, 32)
		if err != nil {
			continue
		}
		pids[int32(pid)] = name
	}
}
