// Package scan runs penetration tests against the deployed application.
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/yz4230/shipyard/internal/entity"
)

type Options struct {
	UseZap    bool `json:"use_zap"`
	QuickScan bool `json:"quick_scan"`
}

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

type Finding struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	URL      string   `json:"url,omitempty"`
}

type Counts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Info   int `json:"info"`
}

type Result struct {
	Target          string    `json:"target"`
	Vulnerabilities Counts    `json:"vulnerabilities"`
	Findings        []Finding `json:"findings"`
}

// Summary classifies the result and attaches the rendered report.
func (r *Result) Summary() *entity.SecuritySummary {
	v := r.Vulnerabilities
	return &entity.SecuritySummary{
		Status: entity.ClassifySecurity(v.High, v.Medium),
		High:   v.High,
		Medium: v.Medium,
		Low:    v.Low,
		Info:   v.Info,
		Report: GenerateReport(r),
	}
}

type Service interface {
	RunFullPentest(ctx context.Context, target string, opts Options) (*Result, error)
}

// GenerateReport renders findings as the step output.
func GenerateReport(r *Result) string {
	v := r.Vulnerabilities
	var b strings.Builder
	fmt.Fprintf(&b, "Security Scan completed for %s\n", r.Target)
	fmt.Fprintf(&b, "Status: %s\n", entity.ClassifySecurity(v.High, v.Medium))
	fmt.Fprintf(&b, "High: %d | Medium: %d | Low: %d | Info: %d", v.High, v.Medium, v.Low, v.Info)
	serious := lo.Filter(r.Findings, func(f Finding, _ int) bool {
		return f.Severity == SeverityHigh || f.Severity == SeverityMedium
	})
	for _, f := range serious {
		fmt.Fprintf(&b, "\n[%s] %s", strings.ToUpper(string(f.Severity)), f.Name)
		if f.URL != "" {
			fmt.Fprintf(&b, " (%s)", f.URL)
		}
	}
	return b.String()
}

type Config struct {
	URL     string        `yaml:"url"`
	Target  string        `yaml:"target"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient submits a scan to the scanner service and waits for the result.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

var _ Service = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config, log zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &HTTPClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

func (c *HTTPClient) RunFullPentest(ctx context.Context, target string, opts Options) (*Result, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("%w: scanner not configured", entity.ErrCollaboratorUnavailable)
	}
	payload, err := json.Marshal(struct {
		Target string `json:"target"`
		Options
	}{Target: target, Options: opts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.cfg.URL, "/")+"/api/scans", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Info().Str("target", target).Msg("starting security scan")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("scanner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode scan result: %w", err)
	}
	if result.Target == "" {
		result.Target = target
	}
	return &result, nil
}
