// Package services defines the extension-service contract: plug-ins that are
// bound once to a running application and started/stopped alongside it. A
// registry maps configured service names to constructor functions so the
// container never has to reflect over anything.
package services

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/twitter/historian/config"
)

// AppContext is the slice of the host application an extension service may
// see: its configuration and identifying metadata.
type AppContext struct {
	Conf         *config.Config
	AppName      string
	User         string
	SparkVersion string
}

// Binding ties a service to one application attempt. AttemptID may be empty
// when the resource manager did not assign one.
type Binding struct {
	Ctx       *AppContext
	AppID     string
	AttemptID string
}

// Service is the extension-service contract. Start is called at most once;
// Stop must be idempotent.
type Service interface {
	Start(binding Binding) error
	Stop() error
}

// Factory constructs an unstarted service instance.
type Factory func() Service

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register makes a service constructor available under name. Later
// registrations replace earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// lookup returns the factory for name, or an error for unknown names.
func lookup(name string) (Factory, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f, ok := registry[name]; ok {
		return f, nil
	}
	return nil, errors.Errorf("unknown extension service %q", name)
}
