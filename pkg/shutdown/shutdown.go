package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mlsmithjr/transcoder/pkg/logging"
)

// Manager runs registered cleanup functions when the process is asked to
// stop. Functions run in reverse registration order.
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	once          sync.Once
	logger        *logging.Logger
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a manager whose cleanup phase is bounded by timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Register adds a named shutdown function
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Context is cancelled as soon as shutdown begins
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Listen cancels Context on SIGINT or SIGTERM. It returns immediately.
func (m *Manager) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigChan:
			m.logger.Warn(fmt.Sprintf("Received signal: %v, shutting down", sig))
			m.Trigger()
		case <-m.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Trigger begins shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(m.cancel)
}

// Wait blocks until shutdown begins, then runs the cleanup functions
func (m *Manager) Wait() {
	<-m.ctx.Done()
	m.Shutdown()
}

// Shutdown executes all registered functions, newest first
func (m *Manager) Shutdown() {
	m.Trigger()
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		f := m.shutdownFuncs[i]
		if err := f.fn(ctx); err != nil {
			m.logger.Error(fmt.Sprintf("shutdown of %s failed: %v", f.name, err))
			continue
		}
		m.logger.Debug(fmt.Sprintf("%s stopped", f.name))
	}
	m.shutdownFuncs = nil
}

// StopHTTPServer adapts an http.Server for Register
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource adapts an io.Closer for Register
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}
