package system

import (
	"context"
	"fmt"

	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// Manager starts registered services in registration order and stops them in
// reverse. A failed start rolls back the services already running.
type Manager struct {
	services []Service
	running  []Service
	log      *logger.Logger
}

// NewManager creates an empty manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register appends a service. Registration order defines start order.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start brings every registered service up. On failure the already-started
// services are stopped in reverse before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	for _, svc := range m.services {
		m.log.WithField("service", svc.Name()).Info("starting service")
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service failed to start")
			m.stopRunning(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.running = append(m.running, svc)
	}
	return nil
}

// Stop shuts running services down in reverse start order. All services get a
// stop attempt; the first error is reported.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.running) - 1; i >= 0; i-- {
		svc := m.running[i]
		m.log.WithField("service", svc.Name()).Info("stopping service")
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service failed to stop")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}
	m.running = nil
	return firstErr
}

func (m *Manager) stopRunning(ctx context.Context) {
	for i := len(m.running) - 1; i >= 0; i-- {
		if err := m.running[i].Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", m.running[i].Name()).Warn("rollback stop failed")
		}
	}
	m.running = nil
}
