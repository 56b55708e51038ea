package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Corphon/ManimStudio/internal/renderer"
)

func TestNewRunnerRequiresImage(t *testing.T) {
	t.Parallel()

	if _, err := newRunner(newFakeDockerClient(), Config{}); err == nil {
		t.Fatal("expected error without image")
	}
}

func TestRenderSuccess(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	runner := mustNewRunner(t, client, Config{Image: "manimcommunity/manim", Timeout: 5 * time.Second})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{status: &container.WaitResponse{StatusCode: 0}})
		client.setLogs(id, encodeDockerLogs("File ready at /manim/media/videos/script/480p15/r1.mp4", "progress"))
	})

	job := renderer.Job{RunID: "r1", WorkDir: "/srv/runs/r1", Quality: "l", OutputName: "r1"}
	result, err := runner.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Stderr != "progress" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
	wantArtifact := filepath.Join("/srv/runs/r1", "media", "videos", "script", "480p15", "r1.mp4")
	if result.ExpectedArtifact != wantArtifact {
		t.Fatalf("unexpected expected artifact %q", result.ExpectedArtifact)
	}

	if len(client.createCalls) != 1 {
		t.Fatalf("expected one container, got %d", len(client.createCalls))
	}
	call := client.createCalls[0]
	wantCmd := []string{"manim", "-ql", "--media_dir", "/manim/media", "-o", "r1", "/manim/script.py"}
	if !reflect.DeepEqual([]string(call.config.Cmd), wantCmd) {
		t.Fatalf("unexpected cmd %v", call.config.Cmd)
	}
	if call.config.Labels[runLabel] != "r1" {
		t.Fatalf("missing run label: %v", call.config.Labels)
	}
	wantMount := mount.Mount{Type: mount.TypeBind, Source: "/srv/runs/r1", Target: "/manim"}
	if len(call.hostConfig.Mounts) != 1 || call.hostConfig.Mounts[0] != wantMount {
		t.Fatalf("unexpected mounts %+v", call.hostConfig.Mounts)
	}
	if len(client.removeCalls) != 1 {
		t.Fatalf("container should be removed, got %v", client.removeCalls)
	}
	if len(client.imagePulls) != 0 {
		t.Fatalf("image should not be pulled, got %v", client.imagePulls)
	}
}

func TestRenderNonZeroExit(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	runner := mustNewRunner(t, client, Config{Image: "manim"})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{status: &container.WaitResponse{StatusCode: 1}})
		client.setLogs(id, encodeDockerLogs("", "SyntaxError: invalid syntax"))
	})

	result, err := runner.Render(context.Background(), renderer.Job{RunID: "r2", WorkDir: "/srv/runs/r2", Quality: "l"})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if result.Succeeded() || result.ExitCode != 1 {
		t.Fatalf("expected failed render, got %+v", result)
	}
	if result.Stderr != "SyntaxError: invalid syntax" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
}

func TestRenderHandlesTimeLimit(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	runner := mustNewRunner(t, client, Config{Image: "manim", Timeout: 20 * time.Millisecond})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id,
			waitCall{block: true},
			waitCall{status: &container.WaitResponse{StatusCode: 137}},
		)
		client.setLogs(id, encodeDockerLogs("partial output", "killed"))
	})

	result, err := runner.Render(context.Background(), renderer.Job{RunID: "r3", WorkDir: "/srv/runs/r3", Quality: "h"})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !result.TimedOut() {
		t.Fatalf("expected timed out status, got %q", result.Status)
	}
	if result.ExitCode != 137 || result.Stdout != "partial output" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.ExpectedArtifact == "" {
		t.Fatal("expected artifact path should be reported on timeout")
	}
	if len(client.stopCalls) != 1 {
		t.Fatalf("expected container stop, got %d", len(client.stopCalls))
	}
}

func TestRenderCancelledContext(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	runner := mustNewRunner(t, client, Config{Image: "manim", Timeout: time.Minute})

	client.createHooks = append(client.createHooks, func(id string) {
		client.setWaitSequence(id, waitCall{block: true})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := runner.Render(ctx, renderer.Job{RunID: "r4", WorkDir: "/srv/runs/r4", Quality: "l"})
	if err == nil {
		t.Fatal("expected error for cancelled render")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
	if len(client.stopCalls) != 1 || len(client.removeCalls) != 1 {
		t.Fatalf("container should be stopped and removed: stop=%v remove=%v", client.stopCalls, client.removeCalls)
	}
}

func TestRenderPullsImageOnce(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	runner := mustNewRunner(t, client, Config{Image: "manimcommunity/manim", PullImage: true})

	for i := 0; i < 2; i++ {
		client.createHooks = append(client.createHooks, func(id string) {
			client.setWaitSequence(id, waitCall{status: &container.WaitResponse{}})
		})
		job := renderer.Job{RunID: fmt.Sprintf("r%d", i), WorkDir: "/srv/runs/x", Quality: "l"}
		if _, err := runner.Render(context.Background(), job); err != nil {
			t.Fatalf("Render returned error: %v", err)
		}
	}

	if pulls := client.imagePullRefs(); len(pulls) != 1 || pulls[0] != "manimcommunity/manim" {
		t.Fatalf("expected a single pull, got %v", pulls)
	}
}

func TestRenderRejectsInvalidJob(t *testing.T) {
	t.Parallel()

	runner := mustNewRunner(t, newFakeDockerClient(), Config{Image: "manim"})
	if _, err := runner.Render(context.Background(), renderer.Job{RunID: "r", WorkDir: "relative", Quality: "l"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	runner := mustNewRunner(t, client, Config{Image: "manim"})
	if err := runner.Check(context.Background()); err != nil {
		t.Fatalf("Check err=%v", err)
	}

	client.pingErr = errors.New("connection refused")
	if err := runner.Check(context.Background()); err == nil {
		t.Fatal("expected error when daemon is unreachable")
	}
}

func TestRunnerCloseInvokesClientClose(t *testing.T) {
	t.Parallel()

	client := newFakeDockerClient()
	runner := mustNewRunner(t, client, Config{Image: "manim"})
	if err := runner.Close(); err != nil {
		t.Fatal(err)
	}
	if !client.wasClosed() {
		t.Fatal("expected client to be closed")
	}
}

type fakeDockerClient struct {
	mu          sync.Mutex
	nextID      int
	closed      bool
	pingErr     error
	imagePulls  []string
	createCalls []containerCreateCall
	waitCalls   map[string][]waitCall
	logs        map[string][]byte
	removeCalls []string
	stopCalls   []string
	createHooks []func(string)
}

type containerCreateCall struct {
	id         string
	config     *container.Config
	hostConfig *container.HostConfig
}

type waitCall struct {
	status *container.WaitResponse
	err    error
	block  bool
}

func newFakeDockerClient() *fakeDockerClient {
	return &fakeDockerClient{
		waitCalls: make(map[string][]waitCall),
		logs:      make(map[string][]byte),
	}
}

func (f *fakeDockerClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) Ping(ctx context.Context) (types.Ping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.Ping{APIVersion: "1.45"}, f.pingErr
}

func (f *fakeDockerClient) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.imagePulls = append(f.imagePulls, ref)
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	id := fmt.Sprintf("container-%d", f.nextID)
	f.nextID++
	f.createCalls = append(f.createCalls, containerCreateCall{id: id, config: config, hostConfig: hostConfig})
	hook := popHook(&f.createHooks)
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	f.removeCalls = append(f.removeCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDockerClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	f.mu.Lock()
	calls := f.waitCalls[containerID]
	if len(calls) == 0 {
		f.mu.Unlock()
		return statusCh, errCh
	}
	call := calls[0]
	f.waitCalls[containerID] = calls[1:]
	f.mu.Unlock()

	if call.block {
		return statusCh, errCh
	}
	if call.status != nil {
		statusCh <- *call.status
	}
	if call.err != nil {
		errCh <- call.err
	}
	return statusCh, errCh
}

func (f *fakeDockerClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	data := f.logs[containerID]
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeDockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	f.stopCalls = append(f.stopCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) setWaitSequence(containerID string, calls ...waitCall) {
	f.mu.Lock()
	f.waitCalls[containerID] = append([]waitCall{}, calls...)
	f.mu.Unlock()
}

func (f *fakeDockerClient) setLogs(containerID string, data []byte) {
	f.mu.Lock()
	f.logs[containerID] = data
	f.mu.Unlock()
}

func (f *fakeDockerClient) imagePullRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.imagePulls...)
}

func (f *fakeDockerClient) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func popHook(hooks *[]func(string)) func(string) {
	if len(*hooks) == 0 {
		return nil
	}
	hook := (*hooks)[0]
	*hooks = (*hooks)[1:]
	return hook
}

func mustNewRunner(t *testing.T, client *fakeDockerClient, cfg Config) *Runner {
	t.Helper()

	runner, err := newRunner(client, cfg)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	return runner
}

func encodeDockerLogs(stdout, stderr string) []byte {
	var buf bytes.Buffer
	if stdout != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
		_, _ = w.Write([]byte(stdout))
	}
	if stderr != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
		_, _ = w.Write([]byte(stderr))
	}
	return buf.Bytes()
}
