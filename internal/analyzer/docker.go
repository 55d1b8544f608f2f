package analyzer

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

const (
	containerModelPath = "/model/weights.pt"
	containerOutDir    = "/out"
)

// DockerLauncher runs the analyzer inside a container of the configured
// engine image. The model artifact and the job's output directory are
// bind-mounted into the container.
type DockerLauncher struct {
	cli      *client.Client
	image    string
	cpuLimit int64 // CPU shares, e.g. 1000 millicores = 1 CPU core
	memLimit int64 // bytes
}

func NewDockerLauncher(image string, cpuLimit, memLimit int64) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create Docker client")
	}
	return &DockerLauncher{cli: cli, image: image, cpuLimit: cpuLimit, memLimit: memLimit}, nil
}

func (l *DockerLauncher) Start(ctx context.Context, spec Spec) (Process, error) {
	// Inspect first, pull only if not found locally.
	if _, err := l.cli.ImageInspect(ctx, l.image); err != nil {
		reader, err := l.cli.ImagePull(ctx, l.image, image.PullOptions{})
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "pull image %s", l.image)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	// The container sees its own paths; rewrite the spec accordingly.
	containerSpec := spec
	containerSpec.ModelPath = containerModelPath
	containerSpec.OutputPath = path.Join(containerOutDir, filepath.Base(spec.OutputPath))

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: spec.ModelPath, Target: containerModelPath, ReadOnly: true},
			{Type: mount.TypeBind, Source: filepath.Dir(spec.OutputPath), Target: containerOutDir},
		},
		Resources: container.Resources{
			CPUShares: l.cpuLimit,
			Memory:    l.memLimit,
		},
		AutoRemove: true,
	}
	containerConfig := &container.Config{
		Image: l.image,
		Cmd:   containerSpec.Args(),
	}

	name := fmt.Sprintf("analyzer-%s", uuid.NewString())
	resp, err := l.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create container")
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, pkgerrors.Wrap(err, "start container")
	}

	logReader, err := l.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		l.cli.ContainerKill(ctx, resp.ID, "SIGKILL")
		return nil, pkgerrors.Wrap(err, "attach container logs")
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		defer logReader.Close()
		// stdcopy demuxes the combined stream back into pure stdout/stderr.
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, logReader)
		stdoutW.CloseWithError(copyErr)
		stderrW.CloseWithError(copyErr)
	}()

	return &dockerProcess{
		cli:         l.cli,
		ctx:         ctx,
		containerID: resp.ID,
		stdout:      stdoutR,
		stderr:      stderrR,
	}, nil
}

type dockerProcess struct {
	cli         *client.Client
	ctx         context.Context
	containerID string
	stdout      io.Reader
	stderr      io.Reader
}

func (p *dockerProcess) Stdout() io.Reader { return p.stdout }
func (p *dockerProcess) Stderr() io.Reader { return p.stderr }

func (p *dockerProcess) Wait() ExitStatus {
	waitCh, errCh := p.cli.ContainerWait(p.ctx, p.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return ExitStatus{Code: -1, Err: err}
	case status := <-waitCh:
		if status.Error != nil {
			return ExitStatus{Code: int(status.StatusCode), Err: pkgerrors.New(status.Error.Message)}
		}
		return ExitStatus{Code: int(status.StatusCode)}
	}
}

func (p *dockerProcess) Terminate() bool {
	return p.cli.ContainerKill(p.ctx, p.containerID, "SIGTERM") == nil
}
