package services

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/historian/config"
)

// Container instantiates the services named by the extension.services config
// key and fans out start/stop. Start order follows the configured list; stop
// order is unspecified.
type Container struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	services []Service
}

func NewContainer() *Container {
	return &Container{}
}

// Start reads the configured service list, constructs each via the registry
// and starts them in order. A second Start is a no-op with a warning. An
// unknown name or a failing service aborts the remaining starts.
func (c *Container) Start(binding Binding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		log.Warnf("Extension services already started for %s; ignoring", binding.AppID)
		return nil
	}
	c.started = true

	names := config.SplitList(binding.Ctx.Conf.ExtensionServices)
	for _, name := range names {
		factory, err := lookup(name)
		if err != nil {
			return err
		}
		svc := factory()
		if err := svc.Start(binding); err != nil {
			return errors.Wrapf(err, "starting extension service %q", name)
		}
		log.Infof("Started extension service %q for %s", name, binding.AppID)
		c.services = append(c.services, svc)
	}
	return nil
}

// Stop stops every started service. Idempotent; the first error is returned
// but every service still gets its Stop call.
func (c *Container) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true

	var firstErr error
	for _, svc := range c.services {
		if err := svc.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Services returns the started service instances, in start order.
func (c *Container) Services() []Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Service, len(c.services))
	copy(out, c.services)
	return out
}
