package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/keepmind9/nlpbridge/internal/logger"
	"github.com/sirupsen/logrus"
)

var (
	errConnectorExists = errors.New("connector already registered")
	errInvalidArgument = errors.New("invalid argument")
)

// exitProcess is swapped out by tests
var exitProcess = os.Exit

// Connector is the lifecycle every channel adapter implements
type Connector interface {
	// Name is the connector's registry key, e.g. "telegram"
	Name() string

	// RegisterDefaults registers the connector's default settings without
	// overwriting an existing registration
	RegisterDefaults()

	// Initialize connects to the platform and starts receiving messages.
	// Startup failures are returned.
	Initialize(ctx context.Context) error

	// Close stops receiving messages. In-flight messages are not drained.
	Close() error

	// Exit terminates the process
	Exit()
}

// Container is the host connectors plug into
type Container struct {
	name       string
	registry   *Registry
	log        logrus.FieldLogger
	nlp        Processor
	mu         sync.Mutex
	connectors map[string]Connector
	order      []string
	started    []Connector
}

// NewContainer creates a host container. nlp may be nil, in which case
// connectors drop inbound messages.
func NewContainer(name string, log logrus.FieldLogger, nlp Processor) *Container {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Container{
		name:       name,
		registry:   NewRegistry(),
		log:        log,
		nlp:        nlp,
		connectors: make(map[string]Connector),
	}
}

// Name returns the application name
func (c *Container) Name() string { return c.name }

// Registry returns the configuration registry
func (c *Container) Registry() *Registry { return c.registry }

// Logger returns the host logger
func (c *Container) Logger() logrus.FieldLogger { return c.log }

// NLP returns the NLP processor, nil when none is configured
func (c *Container) NLP() Processor { return c.nlp }

// Register adds a connector; names must be unique
func (c *Container) Register(connector Connector) error {
	if connector == nil {
		return fmt.Errorf("connector is nil: %w", errInvalidArgument)
	}
	name := connector.Name()
	if name == "" {
		return fmt.Errorf("connector name is empty: %w", errInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.connectors[name]; exists {
		return fmt.Errorf("%s: %w", name, errConnectorExists)
	}
	c.connectors[name] = connector
	c.order = append(c.order, name)
	return nil
}

// Connectors returns the registered connector names in registration order
func (c *Container) Connectors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Start registers defaults for every connector and initializes them in
// registration order. If one fails, the connectors already started are closed.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	list := make([]Connector, 0, len(c.order))
	for _, name := range c.order {
		list = append(list, c.connectors[name])
	}
	c.mu.Unlock()

	for _, connector := range list {
		connector.RegisterDefaults()
	}

	for _, connector := range list {
		c.log.WithField("connector", connector.Name()).Info("initializing-connector")
		if err := connector.Initialize(ctx); err != nil {
			c.log.WithFields(logrus.Fields{
				"connector": connector.Name(),
				"error":     err,
			}).Error("failed-to-initialize-connector")
			if stopErr := c.Stop(); stopErr != nil {
				err = multierror.Append(err, stopErr)
			}
			return fmt.Errorf("start connector %s: %w", connector.Name(), err)
		}

		c.mu.Lock()
		c.started = append(c.started, connector)
		c.mu.Unlock()
	}

	c.log.WithField("connectors", len(list)).Info("container-started")
	return nil
}

// Stop closes every started connector in reverse start order
func (c *Container) Stop() error {
	c.mu.Lock()
	started := c.started
	c.started = nil
	c.mu.Unlock()

	var result *multierror.Error
	for i := len(started) - 1; i >= 0; i-- {
		connector := started[i]
		c.log.WithField("connector", connector.Name()).Info("closing-connector")
		if err := connector.Close(); err != nil {
			c.log.WithFields(logrus.Fields{
				"connector": connector.Name(),
				"error":     err,
			}).Error("failed-to-close-connector")
			result = multierror.Append(result, fmt.Errorf("close connector %s: %w", connector.Name(), err))
		}
	}

	return result.ErrorOrNil()
}

// Exit terminates the process through the first registered connector
func (c *Container) Exit() {
	c.mu.Lock()
	var first Connector
	if len(c.order) > 0 {
		first = c.connectors[c.order[0]]
	}
	c.mu.Unlock()

	if first != nil {
		first.Exit()
		return
	}
	exitProcess(0)
}
