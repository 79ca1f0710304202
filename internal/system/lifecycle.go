package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/KevinKickass/CrateManager/internal/api/grpcapi"
	"github.com/KevinKickass/CrateManager/internal/api/rest"
	"github.com/KevinKickass/CrateManager/internal/api/websocket"
	"github.com/KevinKickass/CrateManager/internal/auth"
	"github.com/KevinKickass/CrateManager/internal/config"
	"github.com/KevinKickass/CrateManager/internal/hardware"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/interfaces"
	"github.com/KevinKickass/CrateManager/internal/manager"
	"github.com/KevinKickass/CrateManager/internal/monitor"
	"github.com/KevinKickass/CrateManager/internal/storage"
)

// notifiers fans controller state changes out to several listeners.
type notifiers []manager.Notifier

func (n notifiers) StateChanged(st manager.Status) {
	for _, l := range n {
		l.StateChanged(st)
	}
}

type LifecycleManager struct {
	config      *config.Config
	storage     *storage.PostgresClient
	registry    *infospace.Registry
	controller  *manager.Controller
	authService *auth.AuthService
	wsHub       *websocket.Hub
	streamer    *grpcapi.StatusStreamer
	metrics     *prometheus.Registry
	logger      *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr
	hubCancel  context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

// NewLifecycleManager wires the crate controller and its API surfaces. db
// may be nil when no database is configured.
func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tables, err := hardware.NewTableLoader(cfg.Hardware.AddressTablePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create address table loader: %w", err)
	}

	var connections *hardware.ConnectionFile
	if cfg.Crate.ConnectionFile != "" {
		connections, err = hardware.LoadConnectionFile(cfg.Crate.ConnectionFile)
		if err != nil {
			return nil, err
		}
	}

	factory := hardware.NewFactory(tables, connections, cfg.Hardware.Timeout, logger)
	registry := infospace.NewRegistry()
	controller := manager.NewController(logger, factory, registry,
		manager.NewMetrics(metrics), monitor.NewMetrics(metrics),
		manager.OptionsFromConfig(cfg))

	var events auth.EventLogger
	if db != nil {
		events = db
		controller.SetRecorder(db)
	}
	authService := auth.NewAuthService(cfg.Auth, auth.NewPasswordHasher(), events, logger)

	wsHub := websocket.NewHub(logger, authService)
	wsHub.SetStatusProvider(controller)
	registry.OnChange(wsHub.InfospaceChanged)

	streamer := grpcapi.NewStatusStreamer()
	controller.SetNotifier(notifiers{wsHub, streamer})

	return &LifecycleManager{
		config:       cfg,
		storage:      db,
		registry:     registry,
		controller:   controller,
		authService:  authService,
		wsHub:        wsHub,
		streamer:     streamer,
		metrics:      metrics,
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start loads the crate defaults and starts the API servers. The crate
// itself stays Halted until an initialize command arrives.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting CrateManager")

	if err := lm.loadDefaults(ctx); err != nil {
		lm.setState(StateError)
		return err
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	if err := lm.startGRPCServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("storage_enabled", lm.storage != nil))

	return nil
}

// loadDefaults hands the configured crate to the controller, with slot
// entries stored in the database taking precedence.
func (lm *LifecycleManager) loadDefaults(ctx context.Context) error {
	crateCfg := lm.config.Crate
	if lm.storage != nil {
		stored, err := lm.storage.LoadSlotConfigs(ctx, crateCfg.CrateID)
		if err != nil {
			lm.logger.Warn("Failed to load slot configuration from database", zap.Error(err))
		} else if len(stored) > 0 {
			crateCfg = storage.MergeSlotConfigs(crateCfg, stored)
			lm.logger.Info("Slot configuration loaded from database", zap.Int("count", len(stored)))
		}
	}

	if err := lm.controller.LoadDefaults(ctx, manager.Defaults{Crate: crateCfg, Scan: lm.config.Scan}); err != nil {
		return fmt.Errorf("failed to load crate defaults: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Release the crate: stop monitors, close sessions, drop namespaces
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.controller.ExecuteCommand(ctx, manager.CommandReset); err != nil {
			errChan <- fmt.Errorf("crate reset failed: %w", err)
		}
	}()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	case err = <-errChan:
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
	}
	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer(grpcapi.ServerOptions(lm.authService, lm.logger)...)
	grpcapi.Register(lm.grpcServer, grpcapi.NewCrateService(lm.controller, lm.authService, lm.streamer, lm.logger))
	lm.logger.Info("CrateControl gRPC service registered")

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", grpcapi.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	st := lm.controller.Status()
	bound := 0
	for _, s := range st.Slots {
		if s.Bound {
			bound++
		}
	}

	return interfaces.SystemStatus{
		State:         state.String(),
		Ready:         state.Ready(),
		CrateState:    string(st.State),
		BoundSlots:    bound,
		ConnectedWS:   lm.wsHub.GetClientCount(),
		StorageOnline: lm.storage != nil,
	}
}

// Crate returns the lifecycle controller
func (lm *LifecycleManager) Crate() interfaces.CrateController {
	return lm.controller
}

// Transitions returns the transition log, or nil without a database.
func (lm *LifecycleManager) Transitions() interfaces.TransitionLog {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

// Gatherer returns the metrics registry served on /metrics
func (lm *LifecycleManager) Gatherer() prometheus.Gatherer {
	return lm.metrics
}

// Registry returns the configuration namespace registry
func (lm *LifecycleManager) Registry() *infospace.Registry {
	return lm.registry
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// GRPCAddr returns the address the gRPC server listens on, or nil before Start.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}
