// Package analysis talks to the static analysis server.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/toolchain"
	"github.com/yz4230/shipyard/internal/utils"
)

// Service is the narrow surface the pipeline needs from the analysis server.
type Service interface {
	IsAvailable(ctx context.Context) bool
	EnsureProject(ctx context.Context, key, name string) error
	RunAnalysis(ctx context.Context, workdir, key string) (string, error)
	QualityGateStatus(ctx context.Context, key string) (string, error)
	Report(ctx context.Context, key string) (*entity.AnalysisSummary, error)
}

type Config struct {
	URL         string        `yaml:"url"`
	ExternalURL string        `yaml:"external_url"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProjectKey is the analysis project a repository branch reports into.
func ProjectKey(repo, branch string) string {
	return utils.SanitizeName(fmt.Sprintf("cicd-%s-%s", repo, branch))
}

type SonarClient struct {
	cfg     Config
	http    *http.Client
	scanner toolchain.Runner
	log     zerolog.Logger
}

var _ Service = (*SonarClient)(nil)

func NewSonarClient(cfg Config, scanner toolchain.Runner, log zerolog.Logger) *SonarClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ExternalURL == "" {
		cfg.ExternalURL = cfg.URL
	}
	return &SonarClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		scanner: scanner,
		log:     log,
	}
}

func (c *SonarClient) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("%w: analysis server not configured", entity.ErrCollaboratorUnavailable)
	}
	u := strings.TrimSuffix(c.cfg.URL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.SetBasicAuth(c.cfg.Token, "")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, entity.ErrNotFound)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, sonarError(body))
	}
	return body, nil
}

func sonarError(body []byte) string {
	var payload struct {
		Errors []struct {
			Msg string `json:"msg"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Errors) > 0 {
		return payload.Errors[0].Msg
	}
	return strings.TrimSpace(string(body))
}

func (c *SonarClient) IsAvailable(ctx context.Context) bool {
	body, err := c.do(ctx, http.MethodGet, "/api/system/status", nil)
	if err != nil {
		c.log.Debug().Err(err).Msg("analysis server not available")
		return false
	}
	var status struct {
		Status string `json:"status"`
	}
	return json.Unmarshal(body, &status) == nil && status.Status == "UP"
}

func (c *SonarClient) EnsureProject(ctx context.Context, key, name string) error {
	body, err := c.do(ctx, http.MethodGet, "/api/projects/search", url.Values{"projects": {key}})
	if err != nil {
		return fmt.Errorf("search analysis project: %w", err)
	}
	if total, _ := gabsTotal(body); total > 0 {
		return nil
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/projects/create", url.Values{"project": {key}, "name": {name}}); err != nil {
		return fmt.Errorf("create analysis project: %w", err)
	}
	c.log.Info().Str("project", key).Msg("created analysis project")
	return nil
}

func gabsTotal(body []byte) (int, error) {
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return 0, err
	}
	total, _ := parsed.Path("paging.total").Data().(float64)
	return int(total), nil
}

// scannerCommand picks the analysis invocation matching the project's build tool.
func (c *SonarClient) scannerCommand(workdir, key string) string {
	params := []string{
		"-Dsonar.host.url=" + c.cfg.URL,
		"-Dsonar.projectKey=" + key,
	}
	if c.cfg.Token != "" {
		params = append(params, "-Dsonar.token="+c.cfg.Token)
	}
	args := strings.Join(params, " ")
	switch {
	case exists(filepath.Join(workdir, "pom.xml")):
		return "./mvnw sonar:sonar " + args
	case exists(filepath.Join(workdir, "build.gradle")):
		return "./gradlew sonarqube " + args
	}
	return "sonar-scanner -Dsonar.sources=. " + args
}

func (c *SonarClient) RunAnalysis(ctx context.Context, workdir, key string) (string, error) {
	if c.scanner == nil {
		return "", errors.New("no analysis scanner configured")
	}
	out, err := c.scanner.Run(ctx, workdir, c.scannerCommand(workdir, key))
	if err != nil {
		return out, fmt.Errorf("analysis failed: %w", err)
	}
	return out, nil
}

func (c *SonarClient) QualityGateStatus(ctx context.Context, key string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/qualitygates/project_status", url.Values{"projectKey": {key}})
	if err != nil {
		return "", err
	}
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return "", fmt.Errorf("decode quality gate: %w", err)
	}
	status, _ := parsed.Path("projectStatus.status").Data().(string)
	return status, nil
}

var reportMetrics = []string{"bugs", "vulnerabilities", "code_smells", "coverage"}

func (c *SonarClient) Report(ctx context.Context, key string) (*entity.AnalysisSummary, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/measures/component", url.Values{
		"component":  {key},
		"metricKeys": {strings.Join(reportMetrics, ",")},
	})
	if err != nil {
		return nil, err
	}
	measures, err := parseMeasures(body)
	if err != nil {
		return nil, err
	}
	gate, err := c.QualityGateStatus(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("project", key).Msg("failed to fetch quality gate")
	}
	coverage, _ := strconv.ParseFloat(measures["coverage"], 64)
	return &entity.AnalysisSummary{
		ProjectKey:      key,
		QualityGate:     gate,
		Bugs:            atoi(measures["bugs"]),
		Vulnerabilities: atoi(measures["vulnerabilities"]),
		CodeSmells:      atoi(measures["code_smells"]),
		Coverage:        coverage,
		DashboardURL:    c.DashboardURL(key),
	}, nil
}

func (c *SonarClient) DashboardURL(key string) string {
	return strings.TrimSuffix(c.cfg.ExternalURL, "/") + "/dashboard?id=" + url.QueryEscape(key)
}

func parseMeasures(body []byte) (map[string]string, error) {
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("decode measures: %w", err)
	}
	children, err := parsed.Path("component.measures").Children()
	if err != nil {
		return map[string]string{}, nil
	}
	measures := make(map[string]string, len(children))
	for _, m := range children {
		metric, _ := m.Path("metric").Data().(string)
		value, _ := m.Path("value").Data().(string)
		measures[metric] = value
	}
	return measures, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Summary renders the step output line block.
func Summary(s *entity.AnalysisSummary) string {
	gate := s.QualityGate
	if gate == "" {
		gate = "N/A"
	}
	dashboard := s.DashboardURL
	if dashboard == "" {
		dashboard = "N/A"
	}
	return fmt.Sprintf("SonarQube Analysis completed\nQuality Gate: %s\nBugs: %d | Vulnerabilities: %d\nCode Smells: %d | Coverage: %g%%\nDashboard: %s",
		gate, s.Bugs, s.Vulnerabilities, s.CodeSmells, s.Coverage, dashboard)
}
