package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mlsmithjr/transcoder/pkg/logging"
	"github.com/mlsmithjr/transcoder/pkg/models"
	"github.com/mlsmithjr/transcoder/pkg/probe"
)

var (
	// ErrConfig marks configuration errors that end the whole run
	ErrConfig = errors.New("configuration error")
	// ErrNoDirective means no directive could be chosen for a file
	ErrNoDirective = errors.New("no directive matched")
)

// Directives resolves directive names
type Directives interface {
	Get(name string) (models.Directive, error)
}

// Enqueued records a job and the queue it went to
type Enqueued struct {
	Queue string
	Job   *models.EncodeJob
}

// Cluster owns the queues and workers of one named group of hosts
type Cluster struct {
	name       string
	queues     map[string]*Queue
	workers    []*Worker
	directives Directives
	matcher    Matcher
	prober     probe.Prober
	env        *Env
	logger     *logging.Logger

	mu       sync.Mutex
	enqueued []Enqueued
	wg       sync.WaitGroup
	done     chan struct{}
}

// New builds a cluster from its host profiles. Disabled hosts are ignored;
// an invalid enabled host is a configuration error.
func New(name string, hosts map[string]*models.HostProfile, directives Directives, matcher Matcher, prober probe.Prober, env *Env) (*Cluster, error) {
	env = env.withDefaults()
	c := &Cluster{
		name:       name,
		queues:     make(map[string]*Queue),
		directives: directives,
		matcher:    matcher,
		prober:     prober,
		env:        env,
		logger:     env.Logger.WithField("cluster", name),
		done:       make(chan struct{}),
	}

	names := make([]string, 0, len(hosts))
	for n := range hosts {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, hostName := range names {
		host := hosts[hostName]
		if !host.Enabled() {
			c.logger.Debug(fmt.Sprintf("host %s disabled, skipping", hostName))
			continue
		}
		if err := host.Validate(); err != nil {
			return nil, fmt.Errorf("%w: cluster %s: %v", ErrConfig, name, err)
		}
		for _, queueName := range host.QueueNames() {
			q, ok := c.queues[queueName]
			if !ok {
				q = NewQueue(queueName)
				c.queues[queueName] = q
			}
			for slot := 0; slot < host.QueueSlots()[queueName]; slot++ {
				w, err := newWorker(host, q, slot, env)
				if err != nil {
					return nil, err
				}
				c.workers = append(c.workers, w)
			}
		}
	}
	if len(c.workers) == 0 {
		return nil, fmt.Errorf("%w: cluster %s has no enabled hosts", ErrConfig, name)
	}
	return c, nil
}

// Name returns the cluster name
func (c *Cluster) Name() string { return c.name }

// Workers returns the cluster's workers
func (c *Cluster) Workers() []*Worker { return c.workers }

// Queue returns the named queue, if any host serves it
func (c *Cluster) Queue(name string) (*Queue, bool) {
	q, ok := c.queues[name]
	return q, ok
}

// QueueNames returns the names of the cluster's queues in order
func (c *Cluster) QueueNames() []string {
	names := make([]string, 0, len(c.queues))
	for name := range c.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckDirective verifies that some host serves the directive's queue
func (c *Cluster) CheckDirective(d models.Directive) error {
	queue := models.QueueFor(d)
	if _, ok := c.queues[queue]; !ok {
		return fmt.Errorf("%w: directive %s uses queue %q, which no host in cluster %s defines",
			ErrConfig, d.Name(), queue, c.name)
	}
	return nil
}

// Resolve picks the directive for a file: the forced one when named,
// otherwise the matcher's choice.
func (c *Cluster) Resolve(forced string, media *models.MediaInfo) (models.Directive, error) {
	if forced != "" {
		d, err := c.directives.Get(forced)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return d, nil
	}
	if c.matcher == nil {
		return nil, ErrNoDirective
	}
	return c.matcher.Match(media)
}

// Enqueue probes path, resolves its directive and queues the job. It returns
// a nil job when the file is skipped. Probe and match failures drop the file;
// ErrConfig errors are fatal to the run.
func (c *Cluster) Enqueue(ctx context.Context, path, forced string, mixins []string) (*models.EncodeJob, error) {
	media, err := c.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	d, err := c.Resolve(forced, media)
	if err != nil {
		return nil, err
	}
	if d == nil {
		c.logger.Info(fmt.Sprintf("skipping %s", path))
		return nil, nil
	}
	if err := c.CheckDirective(d); err != nil {
		return nil, err
	}

	queue := models.QueueFor(d)
	job := models.NewEncodeJob(path, media, d, mixins)
	if err := c.queues[queue].Put(job); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.enqueued = append(c.enqueued, Enqueued{Queue: queue, Job: job})
	c.mu.Unlock()
	return job, nil
}

// Enqueued returns every job queued so far
func (c *Cluster) Enqueued() []Enqueued {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Enqueued(nil), c.enqueued...)
}

// CloseQueues marks the end of input on every queue
func (c *Cluster) CloseQueues() {
	for _, q := range c.queues {
		q.Close()
	}
}

// Start runs every worker in its own goroutine
func (c *Cluster) Start(ctx context.Context) {
	for _, w := range c.workers {
		c.wg.Add(1)
		go func(w *Worker) {
			defer c.wg.Done()
			w.Run(ctx)
		}(w)
	}
	go func() {
		c.wg.Wait()
		close(c.done)
	}()
}

// Finished reports whether every worker has returned
func (c *Cluster) Finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Completed collects the completion records of every worker
func (c *Cluster) Completed() []models.Completion {
	var out []models.Completion
	for _, w := range c.workers {
		out = append(out, w.Completed()...)
	}
	return out
}
