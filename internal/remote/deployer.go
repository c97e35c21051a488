package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/entity"
)

// Deployer switches what runs on the production host.
type Deployer interface {
	Deploy(ctx context.Context, image string) (string, error)
	DeployWithImage(ctx context.Context, image, archivePath string) (string, error)
	Rollback(ctx context.Context, image string) (string, error)
	ImageExists(ctx context.Context, image string) (bool, error)
	HealthCheck(ctx context.Context) (bool, error)
	ContainerStatus(ctx context.Context) (string, error)
	Logs(ctx context.Context, lines int) (string, error)
	TestConnection(ctx context.Context) (bool, error)
	// Upload transfers a local file to the host.
	Upload(ctx context.Context, localPath, remotePath string) error
}

// StatusNotRunning is reported when the container does not exist.
const StatusNotRunning = "not running"

type DeployerConfig struct {
	Container     string `yaml:"container"`
	Port          int    `yaml:"port"`
	RestartPolicy string `yaml:"restart_policy"`
	HealthURL     string `yaml:"health_url"`
	HealthMarker  string `yaml:"health_marker"`
}

func DefaultDeployerConfig() DeployerConfig {
	return DeployerConfig{
		Container:     "bfb-app",
		Port:          8080,
		RestartPolicy: "unless-stopped",
		HealthURL:     "http://localhost:8080/actuator/health",
		HealthMarker:  `"status":"UP"`,
	}
}

func (c DeployerConfig) Validate() error {
	if !nameRe.MatchString(c.Container) {
		return &entity.ValidationError{Field: "container", Reason: "must match [A-Za-z0-9_.-]+"}
	}
	if !nameRe.MatchString(c.RestartPolicy) {
		return &entity.ValidationError{Field: "restart_policy", Reason: "must match [A-Za-z0-9_.-]+"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &entity.ValidationError{Field: "port", Reason: "out of range"}
	}
	if c.HealthURL == "" {
		return &entity.ValidationError{Field: "health_url", Reason: "required"}
	}
	return nil
}

// DockerDeployer runs the docker CLI on the host through a Channel.
type DockerDeployer struct {
	ch  Channel
	cfg DeployerConfig
	log zerolog.Logger
}

var _ Deployer = (*DockerDeployer)(nil)

func NewDockerDeployer(ch Channel, cfg DeployerConfig, log zerolog.Logger) (*DockerDeployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HealthMarker == "" {
		cfg.HealthMarker = DefaultDeployerConfig().HealthMarker
	}
	return &DockerDeployer{ch: ch, cfg: cfg, log: log}, nil
}

func (d *DockerDeployer) exec(ctx context.Context, command string) (string, error) {
	res, err := d.ch.Execute(ctx, command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (d *DockerDeployer) removeCmd() string {
	c := d.cfg.Container
	return fmt.Sprintf("docker stop %s >/dev/null 2>&1 || true; docker rm %s >/dev/null 2>&1 || true", c, c)
}

func (d *DockerDeployer) runCmd(image string) string {
	return fmt.Sprintf("docker run -d --name %s -p %d:%d --restart %s %s",
		d.cfg.Container, d.cfg.Port, d.cfg.Port, d.cfg.RestartPolicy, image)
}

func (d *DockerDeployer) replace(ctx context.Context, image string) (string, error) {
	if err := ValidateImage(image); err != nil {
		return "", err
	}
	out, err := d.exec(ctx, d.removeCmd()+"; "+d.runCmd(image))
	if err != nil {
		return "", fmt.Errorf("run %s: %w", image, err)
	}
	d.log.Info().Str("image", image).Str("container", d.cfg.Container).Msg("container started")
	return out, nil
}

// Deploy replaces the running container with one from image.
func (d *DockerDeployer) Deploy(ctx context.Context, image string) (string, error) {
	return d.replace(ctx, image)
}

// DeployWithImage loads a previously uploaded archive, then replaces the container.
func (d *DockerDeployer) DeployWithImage(ctx context.Context, image, archivePath string) (string, error) {
	if err := ValidateImage(image); err != nil {
		return "", err
	}
	archive := quote(archivePath)
	if _, err := d.exec(ctx, fmt.Sprintf("docker load -i %s && rm -f %s", archive, archive)); err != nil {
		return "", fmt.Errorf("load image archive: %w", err)
	}
	return d.replace(ctx, image)
}

// Rollback uses the same stop/remove/run protocol as Deploy.
func (d *DockerDeployer) Rollback(ctx context.Context, image string) (string, error) {
	return d.replace(ctx, image)
}

func (d *DockerDeployer) ImageExists(ctx context.Context, image string) (bool, error) {
	if err := ValidateImage(image); err != nil {
		return false, err
	}
	out, err := d.exec(ctx, fmt.Sprintf("docker image inspect %s >/dev/null 2>&1 && echo present || echo absent", image))
	if err != nil {
		return false, err
	}
	return out == "present", nil
}

// HealthCheck probes the health endpoint. A failing probe is unhealthy, not an error.
func (d *DockerDeployer) HealthCheck(ctx context.Context) (bool, error) {
	out, err := d.exec(ctx, fmt.Sprintf("curl -sf %s || echo unhealthy", quote(d.cfg.HealthURL)))
	if err != nil {
		return false, err
	}
	return strings.Contains(out, d.cfg.HealthMarker), nil
}

func (d *DockerDeployer) ContainerStatus(ctx context.Context) (string, error) {
	out, err := d.exec(ctx, fmt.Sprintf(`docker ps -a --filter name=^/%s$ --format "{{.Status}}"`, d.cfg.Container))
	if err != nil {
		return "", err
	}
	if out == "" {
		return StatusNotRunning, nil
	}
	return out, nil
}

func (d *DockerDeployer) Logs(ctx context.Context, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}
	res, err := d.ch.Execute(ctx, fmt.Sprintf("docker logs %s --tail %d 2>&1", d.cfg.Container, lines))
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return cmdErr.Stderr, err
		}
		return "", err
	}
	return res.Stdout, nil
}

func (d *DockerDeployer) TestConnection(ctx context.Context) (bool, error) {
	out, err := d.exec(ctx, `echo "OK"`)
	if err != nil {
		return false, err
	}
	return out == "OK", nil
}

func (d *DockerDeployer) Upload(ctx context.Context, localPath, remotePath string) error {
	return d.ch.Upload(ctx, localPath, remotePath)
}

// IsAbsent reports whether a container status means nothing is running on purpose.
func IsAbsent(status string) bool {
	return status == StatusNotRunning || strings.Contains(strings.ToLower(status), "stopped")
}
