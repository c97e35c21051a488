// Package poller watches remote branches and starts a pipeline for every new head commit.
package poller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/utils"
)

const (
	DefaultInterval = 60 * time.Second
	MinInterval     = 10 * time.Second
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipyard",
		Subsystem: "poller",
		Name:      "checks_total",
		Help:      "Branch head lookups by result.",
	}, []string{"result"})

	triggersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shipyard",
		Subsystem: "poller",
		Name:      "triggers_total",
		Help:      "Pipelines started because a branch moved.",
	})
)

// Launcher starts a pipeline for a freshly observed commit.
type Launcher interface {
	Launch(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error)
}

type LauncherFunc func(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error)

func (f LauncherFunc) Launch(ctx context.Context, p *entity.Pipeline) (*entity.Pipeline, error) {
	return f(ctx, p)
}

// Watch is one (repository, branch) pair.
type Watch struct {
	RepoURL string `json:"repo_url"`
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch"`
}

// NewWatch derives owner and repository name from a GitHub URL.
func NewWatch(repoURL, branch string) (Watch, error) {
	owner, repo, ok := utils.ParseGitHubRepo(repoURL)
	if !ok {
		return Watch{}, &entity.ValidationError{Field: "repo_url", Reason: "is not a github repository"}
	}
	if branch == "" {
		branch = "master"
	}
	return Watch{RepoURL: repoURL, Owner: owner, Repo: repo, Branch: branch}, nil
}

func (w Watch) Key() string { return w.Owner + "/" + w.Repo + "@" + w.Branch }

type Options struct {
	Source   CommitSource
	Launcher Launcher
	Interval time.Duration
	Watches  []Watch
	Log      zerolog.Logger
}

type Status struct {
	Running     bool              `json:"running"`
	Interval    string            `json:"interval"`
	Watches     []string          `json:"watches"`
	LastCommits map[string]string `json:"last_commits"`
	LastCheck   *time.Time        `json:"last_check,omitempty"`
	NextCheck   *time.Time        `json:"next_check,omitempty"`
}

type Poller struct {
	source   CommitSource
	launcher Launcher
	watches  []Watch
	log      zerolog.Logger

	mu       sync.Mutex
	interval time.Duration
	cron     *cron.Cron
	entry    cron.EntryID
	parent   context.Context
	cancel   context.CancelFunc

	// marksMu also guards lastCheck; checks never take mu.
	marksMu   sync.Mutex
	marks     map[string]string
	lastCheck time.Time
}

func New(opts Options) (*Poller, error) {
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if err := validateInterval(opts.Interval); err != nil {
		return nil, err
	}
	return &Poller{
		source:   opts.Source,
		launcher: opts.Launcher,
		watches:  opts.Watches,
		log:      opts.Log,
		interval: opts.Interval,
		marks:    make(map[string]string),
	}, nil
}

func validateInterval(d time.Duration) error {
	if d < MinInterval {
		return &entity.ValidationError{Field: "interval", Reason: fmt.Sprintf("must be at least %s", MinInterval)}
	}
	return nil
}

// Start schedules periodic checks and runs one right away. Starting a
// running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked(ctx)
}

func (p *Poller) startLocked(ctx context.Context) {
	if p.cron != nil {
		return
	}
	p.parent = ctx
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{p.log})).
		Then(cron.FuncJob(func() { p.check(runCtx) }))
	p.cron = cron.New(cron.WithLogger(cronLogger{p.log}))
	p.entry = p.cron.Schedule(cron.Every(p.interval), job)
	p.cron.Start()
	go job.Run()

	p.log.Info().Dur("interval", p.interval).Int("watches", len(p.watches)).Msg("poller started")
}

// Stop cancels in-flight lookups and waits for the current check to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cron == nil {
		return
	}
	p.cancel()
	<-p.cron.Stop().Done()
	p.cron = nil
	p.log.Info().Msg("poller stopped")
}

// SetInterval changes the period, restarting the schedule when running.
func (p *Poller) SetInterval(d time.Duration) error {
	if err := validateInterval(d); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
	if p.cron != nil {
		parent := p.parent
		p.stopLocked()
		p.startLocked(parent)
	}
	return nil
}

// ForceCheck runs one check synchronously and returns the watched keys.
func (p *Poller) ForceCheck(ctx context.Context) []string {
	p.check(ctx)
	return lo.Map(p.watches, func(w Watch, _ int) string { return w.Key() })
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	s := Status{
		Running:  p.cron != nil,
		Interval: p.interval.String(),
		Watches:  lo.Map(p.watches, func(w Watch, _ int) string { return w.Key() }),
	}
	if p.cron != nil {
		if next := p.cron.Entry(p.entry).Next; !next.IsZero() {
			s.NextCheck = &next
		}
	}
	p.mu.Unlock()

	p.marksMu.Lock()
	s.LastCommits = maps.Clone(p.marks)
	if !p.lastCheck.IsZero() {
		s.LastCheck = lo.ToPtr(p.lastCheck)
	}
	p.marksMu.Unlock()
	return s
}

func (p *Poller) check(ctx context.Context) {
	p.marksMu.Lock()
	p.lastCheck = time.Now()
	p.marksMu.Unlock()

	for _, w := range p.watches {
		if ctx.Err() != nil {
			return
		}
		p.checkOne(ctx, w)
	}
}

func (p *Poller) checkOne(ctx context.Context, w Watch) {
	log := p.log.With().Str("watch", w.Key()).Logger()

	commit, err := p.source.LatestCommit(ctx, w.Owner, w.Repo, w.Branch)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			pollsTotal.WithLabelValues("not_found").Inc()
			log.Debug().Err(err).Msg("repository or branch not found")
			return
		}
		pollsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("failed to fetch latest commit")
		return
	}
	pollsTotal.WithLabelValues("ok").Inc()

	switch p.advance(w.Key(), commit.SHA) {
	case observedFirst:
		log.Info().Str("sha", shortSHA(commit.SHA)).Msg("baseline recorded")
		return
	case observedSame:
		return
	}

	log.Info().Str("sha", shortSHA(commit.SHA)).Str("author", commit.Author).Msg("new commit detected")
	triggersTotal.Inc()
	pl, err := p.launcher.Launch(ctx, &entity.Pipeline{
		RepoURL:       w.RepoURL,
		Branch:        w.Branch,
		CommitHash:    commit.SHA,
		CommitMessage: firstLine(commit.Message),
		Trigger:       entity.PollTrigger(commit.Author),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to start pipeline")
		return
	}
	log.Info().Str("pipeline_id", pl.ID.String()).Msg("pipeline triggered")
}

type observation int

const (
	observedSame observation = iota
	observedFirst
	observedChanged
)

// advance moves the watermark for key to sha. Only one caller sees
// observedChanged for a given transition.
func (p *Poller) advance(key, sha string) observation {
	p.marksMu.Lock()
	defer p.marksMu.Unlock()
	prev, ok := p.marks[key]
	switch {
	case !ok:
		p.marks[key] = sha
		return observedFirst
	case prev == sha:
		return observedSame
	}
	p.marks[key] = sha
	return observedChanged
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug().Fields(kv).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}
