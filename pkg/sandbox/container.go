package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// ContainerBackend runs a plugin call as a short-lived Docker container,
// communicating over a request/response JSON envelope on the
// container's stdin/stdout, grounded on
// streamspace-dev-streamspace/agents/docker-agent's container lifecycle
// (ContainerCreate with HostConfig resource limits, ContainerStart,
// ContainerStop, ContainerRemove).
type ContainerBackend struct {
	client      *dockerclient.Client
	networkName string
	allowedMounts map[string]string // declared path -> host path
}

// NewContainerBackend wires a Docker Engine API client. allowedMounts
// restricts bind mounts to the plugin's declared paths (spec.md §4.3:
// "filesystem bind-mounts limited to declared paths").
func NewContainerBackend(client *dockerclient.Client, networkName string, allowedMounts map[string]string) *ContainerBackend {
	return &ContainerBackend{client: client, networkName: networkName, allowedMounts: allowedMounts}
}

func (b *ContainerBackend) run(ctx context.Context, req Request) (json.RawMessage, error) {
	envelope, err := json.Marshal(requestEnvelope{
		CorrelationID: string(req.CorrelationID),
		Input:         req.Input,
	})
	if err != nil {
		return nil, &ExecutionError{Kind: FailureInternal, Message: "marshaling request envelope", Cause: err}
	}

	containerID, err := b.createContainer(ctx, req)
	if err != nil {
		return nil, &ExecutionError{Kind: FailureInternal, Message: "creating container", Cause: err}
	}
	defer b.teardown(containerID)

	if err := b.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, &ExecutionError{Kind: FailureInternal, Message: "starting container", Cause: err}
	}

	output, err := b.roundTrip(ctx, containerID, envelope)
	if err != nil {
		return nil, err
	}

	var resp responseEnvelope
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, &ExecutionError{Kind: FailurePluginError, Message: "malformed response envelope", Cause: err}
	}
	if resp.Error != "" {
		return nil, &ExecutionError{Kind: FailurePluginError, Message: resp.Error}
	}
	return resp.Output, nil
}

func (b *ContainerBackend) createContainer(ctx context.Context, req Request) (string, error) {
	cfg := &container.Config{
		Image:        req.Plugin.ImagePath,
		AttachStdin:  true,
		AttachStdout: true,
		OpenStdin:    true,
		StdinOnce:    true,
		Labels: map[string]string{
			"component":   "plugin-sandbox",
			"plugin-id":   req.Plugin.ID,
			"plugin-name": req.Plugin.Name,
		},
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none", // no network unless the plugin whitelists one, spec.md §4.3
		AutoRemove:  false,
	}
	if req.Quota.MemoryMB > 0 {
		hostCfg.Resources.Memory = int64(req.Quota.MemoryMB) * 1024 * 1024
	}
	if req.Quota.CPUPercent > 0 {
		hostCfg.Resources.NanoCPUs = int64(req.Quota.CPUPercent / 100 * 1e9)
	}

	var mounts []mount.Mount
	for declaredPath, hostPath := range b.allowedMounts {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: hostPath, Target: declaredPath, ReadOnly: true})
	}
	hostCfg.Mounts = mounts

	var netCfg *network.NetworkingConfig
	if b.networkName != "" {
		hostCfg.NetworkMode = container.NetworkMode(b.networkName)
		netCfg = &network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{b.networkName: {}}}
	}
	_ = nat.PortSet{} // ports only if the plugin declares them; none declared here by default

	name := fmt.Sprintf("forge-plugin-%s", req.CorrelationID)
	resp, err := b.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// roundTrip attaches to the container's stdio, writes the envelope, and
// reads a single newline-delimited JSON response line.
func (b *ContainerBackend) roundTrip(ctx context.Context, containerID string, envelope []byte) ([]byte, error) {
	attach, err := b.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, &ExecutionError{Kind: FailureInternal, Message: "attaching to container", Cause: err}
	}
	defer attach.Close()

	if _, err := attach.Conn.Write(append(envelope, '\n')); err != nil {
		return nil, &ExecutionError{Kind: FailureInternal, Message: "writing request envelope", Cause: err}
	}

	var out bytes.Buffer
	lineCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(attach.Reader)
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			errCh <- readErr
			return
		}
		out.Write(line)
		lineCh <- bytes.TrimSpace(out.Bytes())
	}()

	select {
	case line := <-lineCh:
		return line, nil
	case err := <-errCh:
		return nil, &ExecutionError{Kind: FailurePluginError, Message: "reading response envelope", Cause: err}
	case <-ctx.Done():
		return nil, &ExecutionError{Kind: FailureTimeout, Message: "deadline exceeded waiting for container response", Cause: ctx.Err()}
	}
}

// teardown stops and removes the container, best-effort. This is the
// "hard" half of the two-level deadline: if the soft cooperative signal
// (context cancellation reaching the plugin process) did not end the
// call, the caller's deadline firing lands here via ContainerStop's own
// timeout.
func (b *ContainerBackend) teardown(containerID string) {
	stopTimeout := 2
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = b.client.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = b.client.ContainerRemove(stopCtx, containerID, container.RemoveOptions{Force: true})
}

type requestEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	Input         json.RawMessage `json:"input"`
}

type responseEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	Output        json.RawMessage `json:"output"`
	Error         string          `json:"error,omitempty"`
}
