// Package toolchain runs build tooling and image builds through the Docker API.
package toolchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/go-archive"
	"github.com/rs/zerolog"
)

func NewClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// Runner executes a shell command with dir as its working directory.
type Runner interface {
	Run(ctx context.Context, dir, command string) (string, error)
}

// DockerRunner runs commands in a throwaway container with dir bind-mounted.
type DockerRunner struct {
	cli   client.APIClient
	image string
	log   zerolog.Logger
}

func NewDockerRunner(cli client.APIClient, image string, log zerolog.Logger) *DockerRunner {
	return &DockerRunner{cli: cli, image: image, log: log}
}

const workdir = "/workspace"

func (r *DockerRunner) ensureImage(ctx context.Context) error {
	if _, err := r.cli.ImageInspect(ctx, r.image); err == nil {
		return nil
	}
	r.log.Info().Str("image", r.image).Msg("pulling toolchain image")
	rc, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", r.image, err)
	}
	defer rc.Close()
	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, dir, command string) (string, error) {
	if err := r.ensureImage(ctx); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      r.image,
			Cmd:        []string{"sh", "-c", command},
			WorkingDir: workdir,
			Labels:     map[string]string{"shipyard.toolchain": "true"},
		},
		&container.HostConfig{
			Binds: []string{abs + ":" + workdir},
		}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// ctx may already be done here.
		if err := r.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			r.log.Warn().Err(err).Str("container", resp.ID).Msg("failed to remove toolchain container")
		}
	}()

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	r.log.Debug().Str("container", resp.ID).Str("command", command).Msg("started toolchain container")

	var exitCode int64
	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.cli.ContainerLogs(context.WithoutCancel(ctx), resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	defer logs.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("demux container logs: %w", err)
	}

	output := stdout.String() + stderr.String()
	if exitCode != 0 {
		return output, fmt.Errorf("%q exited with code %d: %s", command, exitCode, tail(output, 20))
	}
	return output, nil
}

// Images builds and exports application images.
type Images interface {
	Build(ctx context.Context, dir, tag string) (string, error)
	Save(ctx context.Context, tag, path string) error
}

type DockerImages struct {
	cli client.APIClient
	log zerolog.Logger
}

func NewDockerImages(cli client.APIClient, log zerolog.Logger) *DockerImages {
	return &DockerImages{cli: cli, log: log}
}

// Build tars dir as the build context and tags the result with tag.
func (d *DockerImages) Build(ctx context.Context, dir, tag string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
		return "", fmt.Errorf("no Dockerfile in workspace: %w", err)
	}
	buildContext, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create tar archive: %w", err)
	}
	defer buildContext.Close()

	resp, err := d.cli.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:       []string{tag},
		Labels:     map[string]string{"shipyard.image": tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	imageID, output, err := decodeBuildStream(resp.Body)
	if err != nil {
		return output, err
	}
	d.log.Info().Str("image", imageID).Str("tag", tag).Msg("built image successfully")
	return output, nil
}

// Save writes tag as a tar archive to path.
func (d *DockerImages) Save(ctx context.Context, tag, path string) error {
	rc, err := d.cli.ImageSave(ctx, []string{tag})
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image archive: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("write image archive: %w", err)
	}
	return f.Close()
}

func decodeBuildStream(r io.Reader) (imageID, output string, err error) {
	var out strings.Builder
	dec := json.NewDecoder(r)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", out.String(), fmt.Errorf("failed to decode json message: %w", err)
		}
		if jm.Error != nil {
			return "", out.String(), fmt.Errorf("image build: %s", jm.Error.Message)
		}
		if stream := strings.TrimSpace(jm.Stream); stream != "" {
			out.WriteString(stream)
			out.WriteByte('\n')
		}
		if jm.Aux != nil {
			var result build.Result
			if err := json.Unmarshal(*jm.Aux, &result); err != nil {
				return "", out.String(), fmt.Errorf("failed to unmarshal json message: %w", err)
			}
			imageID = result.ID
		}
	}
	if imageID == "" {
		return "", out.String(), errors.New("failed to get image ID")
	}
	return imageID, out.String(), nil
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
