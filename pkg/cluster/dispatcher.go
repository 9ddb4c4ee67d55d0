package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mlsmithjr/transcoder/internal/report"
	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
	"github.com/mlsmithjr/transcoder/pkg/probe"
)

// FileRequest asks for one file to be encoded on a cluster
type FileRequest struct {
	Path    string
	Cluster string
	// Directive forces a directive by name instead of matching
	Directive string
	Mixins    []string
}

// Config assembles a Dispatcher
type Config struct {
	// Clusters maps cluster name to its hosts by name
	Clusters   map[string]map[string]*models.HostProfile
	Directives Directives
	Matcher    Matcher
	Prober     probe.Prober
	Env        Env
	// PollInterval bounds each wait for status events
	PollInterval time.Duration
	StatusBuffer int
}

// Dispatcher runs batches of files across clusters
type Dispatcher struct {
	cfg     Config
	env     *Env
	status  chan StatusEvent
	logger  *logging.Logger
	onEvent func(StatusEvent)
}

// NewDispatcher creates a dispatcher. It owns the console lock and the
// status channel shared by all workers.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.StatusBuffer == 0 {
		cfg.StatusBuffer = 256
	}
	status := make(chan StatusEvent, cfg.StatusBuffer)
	env := cfg.Env
	env.Status = status
	env = *env.withDefaults()
	d := &Dispatcher{
		cfg:    cfg,
		env:    &env,
		status: status,
		logger: env.Logger,
	}
	d.onEvent = func(ev StatusEvent) {
		if d.env.Console != nil {
			d.env.Console.Printf("%s", ev)
		}
	}
	return d
}

// Run is the outcome of ManageClusters
type Run struct {
	Clusters []*Cluster
	Results  []*report.Result
}

// Completed returns every completion record of the run
func (r *Run) Completed() []models.Completion {
	return report.NewSummary(r.Results).Completions()
}

// ManageClusters validates every cluster and queue the files can reach,
// enqueues the files, runs all clusters and relays progress until every
// worker is done. Configuration errors abort before any job runs.
func (d *Dispatcher) ManageClusters(ctx context.Context, files []FileRequest) (*Run, error) {
	clusters, order, err := d.build(files)
	if err != nil {
		return nil, err
	}
	if err := d.validate(clusters, files); err != nil {
		return nil, err
	}

	for _, f := range files {
		c := clusters[f.Cluster]
		job, err := c.Enqueue(ctx, f.Path, f.Directive, f.Mixins)
		switch {
		case errors.Is(err, ErrConfig):
			return nil, err
		case err != nil:
			d.logger.Warn(fmt.Sprintf("%s dropped: %v", f.Path, err))
		case job != nil && d.env.Options.Verbose:
			d.logger.Info(fmt.Sprintf("queued %s on %s/%s", f.Path, f.Cluster, models.QueueFor(job.Directive)))
		}
	}

	run := &Run{}
	for _, name := range order {
		c := clusters[name]
		c.CloseQueues()
		if d.env.Options.Verbose {
			for _, qn := range c.QueueNames() {
				q, _ := c.Queue(qn)
				d.logger.Info(fmt.Sprintf("%s/%s: %d jobs queued", name, qn, q.Len()))
			}
		}
		c.Start(ctx)
		run.Clusters = append(run.Clusters, c)
	}

	d.drain(run.Clusters)

	for _, c := range run.Clusters {
		for _, w := range c.Workers() {
			run.Results = append(run.Results, w.Results()...)
		}
	}
	return run, nil
}

// build creates each referenced cluster once
func (d *Dispatcher) build(files []FileRequest) (map[string]*Cluster, []string, error) {
	clusters := make(map[string]*Cluster)
	for _, f := range files {
		if _, ok := clusters[f.Cluster]; ok {
			continue
		}
		hosts, ok := d.cfg.Clusters[f.Cluster]
		if !ok {
			return nil, nil, fmt.Errorf("%w: cluster %q not defined", ErrConfig, f.Cluster)
		}
		c, err := New(f.Cluster, hosts, d.cfg.Directives, d.cfg.Matcher, d.cfg.Prober, d.env)
		if err != nil {
			return nil, nil, err
		}
		clusters[f.Cluster] = c
	}
	order := make([]string, 0, len(clusters))
	for name := range clusters {
		order = append(order, name)
	}
	sort.Strings(order)
	return clusters, order, nil
}

// validate checks, before any work starts, that every directive a file
// could end up with has a queue in the file's cluster.
func (d *Dispatcher) validate(clusters map[string]*Cluster, files []FileRequest) error {
	seen := make(map[string]bool)
	for _, f := range files {
		key := f.Cluster + "\x00" + f.Directive
		if seen[key] {
			continue
		}
		seen[key] = true

		c := clusters[f.Cluster]
		var candidates []models.Directive
		if f.Directive != "" {
			dir, err := c.Resolve(f.Directive, nil)
			if err != nil {
				return err
			}
			candidates = append(candidates, dir)
		} else if d.cfg.Matcher != nil {
			candidates = d.cfg.Matcher.Candidates()
		}
		for _, dir := range candidates {
			if err := c.CheckDirective(dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// drain relays status events until every cluster is finished and a poll
// interval passes with nothing received.
func (d *Dispatcher) drain(clusters []*Cluster) {
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	for {
		select {
		case ev := <-d.status:
			d.onEvent(ev)
			continue
		case <-timer.C:
		}
		if allFinished(clusters) {
			for {
				select {
				case ev := <-d.status:
					d.onEvent(ev)
				default:
					return
				}
			}
		}
		timer.Reset(d.cfg.PollInterval)
	}
}

func allFinished(clusters []*Cluster) bool {
	for _, c := range clusters {
		if !c.Finished() {
			return false
		}
	}
	return true
}
