package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nodeboot/pkg/cloud"
	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/manager"
	"github.com/cuemby/nodeboot/pkg/messages"
	"github.com/cuemby/nodeboot/pkg/metrics"
	"github.com/cuemby/nodeboot/pkg/node"
	"github.com/cuemby/nodeboot/pkg/objectstore"
	"github.com/cuemby/nodeboot/pkg/paths"
	"github.com/cuemby/nodeboot/pkg/persistent"
	"github.com/cuemby/nodeboot/pkg/worker"
)

const credentialAdvisory = "No access credentials provided in user data. " +
	"You will not be able to add any services."

// Options configure an Application
type Options struct {
	// Overrides take precedence over user data, e.g. CLI --set values
	Overrides map[string]interface{}
	// UserDataFile is read by providers without a metadata service.
	// Defaults to the user data file inside DataDir.
	UserDataFile string
	// CloudType skips detection when set. A cloud_type override is
	// honored the same way.
	CloudType string
	DataDir   string
	// InstancePDFile defaults to paths.DefaultInstancePDFile
	InstancePDFile string
	// SinkCapacity defaults to log.DefaultSinkCapacity
	SinkCapacity int
	// MonitorInterval is passed to the console monitors
	MonitorInterval time.Duration
	// Registry defaults to DefaultRegistry
	Registry node.Registry
	// Cloud bypasses detection and construction. The caller keeps
	// ownership and must close it.
	Cloud cloud.Interface
	// IMDS and DetectTimeout are handed to EC2 detection
	IMDS          cloud.IMDSAPI
	DetectTimeout time.Duration
}

// DefaultRegistry returns the factories for the built-in roles
func DefaultRegistry() node.Registry {
	return node.Registry{
		node.RoleCoordinator: manager.Factory,
		node.RoleWorker:      worker.Factory,
	}
}

// Application is the state of a booted node. It is created once per process
// by New and handed to everything that needs it.
type Application struct {
	Cloud    cloud.Interface
	Config   *config.Configuration
	Messages *messages.Queue
	Sink     *log.Sink
	Numbers  *Numbers

	UseObjectStore bool
	UseVolumes     bool
	TestFlag       bool
	LocalFlag      bool

	// PDSource records where the persistent data came from
	PDSource persistent.Source

	opts      Options
	registry  node.Registry
	ownsCloud bool

	mu          sync.Mutex
	state       State
	paths       *paths.Resolver
	manager     node.Manager
	dispatchErr error
}

// New bootstraps the node: it determines the cloud, loads and validates the
// configuration, installs the log sink and folds any persistent data into
// the configuration. A *config.ValidationError aborts the bootstrap before
// persistent data is consulted.
func New(ctx context.Context, opts Options) (*Application, error) {
	timer := metrics.NewTimer()

	a := &Application{
		Messages: messages.NewQueue(),
		Sink:     log.NewSink(opts.SinkCapacity),
		Numbers:  &Numbers{},
		opts:     opts,
		registry: opts.Registry,
		paths:    paths.New(opts.DataDir, opts.InstancePDFile),
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}

	if err := a.bootstrap(ctx); err != nil {
		a.Close()
		return nil, err
	}
	timer.ObserveDurationVec(metrics.BootstrapDuration, "bootstrap")

	timer = metrics.NewTimer()
	if err := a.resolvePersistentData(ctx); err != nil {
		a.Close()
		return nil, err
	}
	timer.ObserveDurationVec(metrics.BootstrapDuration, "resolve")

	return a, nil
}

func (a *Application) bootstrap(ctx context.Context) error {
	userDataFile := a.opts.UserDataFile
	if userDataFile == "" {
		userDataFile = a.paths.UserDataFile()
	}

	if a.opts.Cloud != nil {
		a.Cloud = a.opts.Cloud
	} else {
		explicit := a.opts.CloudType
		if explicit == "" {
			if v, ok := a.opts.Overrides[config.KeyCloudType].(string); ok {
				explicit = v
			}
		}
		cloudOpts := cloud.Options{
			UserDataFile:  userDataFile,
			DataDir:       a.paths.DataDir(),
			IMDS:          a.opts.IMDS,
			DetectTimeout: a.opts.DetectTimeout,
		}
		a.Cloud = cloud.New(cloud.Detect(ctx, explicit, cloudOpts), cloudOpts)
		a.ownsCloud = true
	}

	ud, err := a.Cloud.UserData(ctx)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentConfig, false, "user data unavailable")
		return fmt.Errorf("failed to load user data: %w", err)
	}

	a.Config = config.New(a.opts.Overrides, ud)
	if err := a.Config.Validate(); err != nil {
		metrics.RegisterComponent(metrics.ComponentConfig, false, err.Error())
		return err
	}
	metrics.RegisterComponent(metrics.ComponentConfig, true, "")

	cloudType := a.Cloud.Type()
	a.UseObjectStore = a.Config.GetBool(config.KeyUseObjectStore, true)
	a.UseVolumes = a.Config.GetBool(config.KeyUseVolumes, cloud.SupportsVolumes(cloudType))

	a.Sink.SetLevel(zerolog.InfoLevel)
	if v, ok := a.Config.Get(config.KeyTestFlag); ok {
		a.TestFlag = config.Truthy(v)
		a.Sink.SetLevel(zerolog.DebugLevel)
	}
	if v, ok := a.Config.Get(config.KeyLocalFlag); ok {
		a.LocalFlag = config.Truthy(v)
		a.Sink.SetLevel(zerolog.DebugLevel)
	}
	log.AttachSink(a.Sink)

	logger := log.WithComponent("app")
	logger.Debug().Msg("Initializing app")
	logger.Debug().
		Str("cloud_type", cloudType).
		Str("zone", a.Cloud.Zone(ctx)).
		Str("image", a.Cloud.ImageID(ctx)).
		Msgf("Running on '%s' type of cloud", cloudType)

	if !a.Config.Has(config.KeyAccessKey) && !a.Config.Has(config.KeySecretKey) {
		a.Messages.Error(credentialAdvisory)
		metrics.AdvisoriesTotal.WithLabelValues("credentials").Inc()
		logger.Warn().Msg("No access credentials provided in user data")
	}

	return nil
}

// resolvePersistentData folds the governing PD snapshot into Config
func (a *Application) resolvePersistentData(ctx context.Context) error {
	r := &persistent.Resolver{
		UseObjectStore: a.UseObjectStore,
		Connect: func(ctx context.Context) (objectstore.Store, error) {
			return a.Cloud.ObjectStore(ctx, a.Config)
		},
		Validate:     a.Cloud.SupportsIntegrityValidation(),
		TestFlag:     a.TestFlag,
		InstanceFile: a.paths.InstancePDFile(),
		TempFile:     a.paths.TempPDFile(),
	}

	source, err := r.Resolve(ctx, a.Config)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentPersistentData, false, err.Error())
		return err
	}
	a.PDSource = source
	metrics.RegisterComponent(metrics.ComponentPersistentData, true, string(source))
	return nil
}

// Startup dispatches to the manager for the configured role and starts its
// console monitor. A failed dispatch is terminal: the same *DispatchError
// is returned by every later call.
func (a *Application) Startup(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateDispatchFailed:
		return a.dispatchErr
	case StateTerminated:
		return ErrTerminated
	case StateCoordinatorRunning, StateWorkerRunning:
		return nil
	}
	a.state = StateDispatching

	logger := log.WithComponent("dispatch")

	v, ok := a.Config.Get(config.KeyRole)
	if !ok {
		log.Critical(fmt.Sprintf("************ No ROLE in %s - this is a fatal error. ************", paths.UserDataFile))
		return a.failDispatch("", ErrNoRole, nil)
	}

	role, err := node.ParseRole(v)
	if err != nil {
		log.Critical(fmt.Sprintf("************ Unknown ROLE %v in %s - this is a fatal error. ************", v, paths.UserDataFile))
		return a.failDispatch(fmt.Sprint(v), ErrUnknownRole, nil)
	}

	logger.Debug().Str("role", role.String()).Msgf("%s process starting", role.Label())

	nc := &node.Context{
		Config:          a.Config,
		Messages:        a.Messages,
		Sink:            a.Sink,
		Numbers:         a.Numbers,
		Cloud:           a.Cloud,
		Paths:           a.paths.WithRole(role.String()),
		UseObjectStore:  a.UseObjectStore,
		UseVolumes:      a.UseVolumes,
		TestFlag:        a.TestFlag,
		LocalFlag:       a.LocalFlag,
		MonitorInterval: a.opts.MonitorInterval,
	}

	mgr, err := a.registry.Build(ctx, role, nc)
	if err != nil {
		log.Critical(fmt.Sprintf("Failed to start %s manager: %v", role.Label(), err))
		return a.failDispatch(role.String(), ErrManagerConstruction, err)
	}

	a.Config.LockRole()
	a.manager = mgr
	a.paths = nc.Paths
	mgr.ConsoleMonitor().Start()

	if role == node.RoleCoordinator {
		a.state = StateCoordinatorRunning
	} else {
		a.state = StateWorkerRunning
	}

	metrics.DispatchTotal.WithLabelValues(role.String(), "ok").Inc()
	metrics.RegisterComponent(metrics.ComponentManager, true, role.Label())
	metrics.SetRole(role.String())

	logger.Info().Str("role", role.String()).Str("state", a.state.String()).Msg("Manager started")
	return nil
}

// failDispatch must be called with mu held
func (a *Application) failDispatch(role string, reason, err error) error {
	a.dispatchErr = &DispatchError{Role: role, Reason: reason, Err: err}
	a.state = StateDispatchFailed

	label := role
	if label == "" {
		label = "none"
	}
	metrics.DispatchTotal.WithLabelValues(label, "failed").Inc()
	metrics.RegisterComponent(metrics.ComponentManager, false, reason.Error())
	return a.dispatchErr
}

// Shutdown delegates to the manager with the same deleteCluster flag. It
// does nothing when no manager was ever constructed and is safe to call
// more than once.
func (a *Application) Shutdown(ctx context.Context, deleteCluster bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.manager == nil || a.state == StateTerminated {
		return nil
	}

	err := a.manager.Shutdown(ctx, deleteCluster)
	a.state = StateTerminated
	metrics.UpdateComponent(metrics.ComponentManager, false, "terminated")

	if err != nil {
		return fmt.Errorf("failed to shut down %s manager: %w", a.manager.Role().Label(), err)
	}
	return nil
}

// Close releases the log sink and, when the Application created it, the
// cloud connection
func (a *Application) Close() error {
	log.DetachSink(a.Sink)
	if a.ownsCloud && a.Cloud != nil {
		return a.Cloud.Close()
	}
	return nil
}

// State returns the dispatch lifecycle state
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Manager returns the running manager, nil when none was constructed
func (a *Application) Manager() node.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager
}

// Paths returns the path resolver, bound to the role after dispatch
func (a *Application) Paths() *paths.Resolver {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paths
}

// DispatchErr returns the dispatch failure, if any
func (a *Application) DispatchErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dispatchErr
}

// IsDispatchError reports whether err is a role dispatch failure
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}
