package interfaces

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/manager"
)

// SystemStatus represents the current process state
type SystemStatus struct {
	State         string `json:"state"`
	Ready         bool   `json:"ready"`
	CrateState    string `json:"crate_state"`
	BoundSlots    int    `json:"bound_slots"`
	ConnectedWS   int    `json:"connected_clients"`
	StorageOnline bool   `json:"storage_online"`
}

// CrateController is the command and query surface of the lifecycle
// controller used by the REST and gRPC layers.
type CrateController interface {
	ExecuteCommand(ctx context.Context, cmd manager.Command) error
	LoadDefaults(ctx context.Context, d manager.Defaults) error
	Defaults() manager.Defaults
	Status() manager.Status
	Fields(slot int) ([]infospace.Field, error)
	DumpFIFO(ctx context.Context, slot int) []uint32
}

// TransitionLog lists recorded lifecycle transitions, newest first.
type TransitionLog interface {
	ListTransitions(ctx context.Context, limit int) ([]manager.TransitionRecord, error)
}

// LifecycleManager is the process-level view handed to the API servers.
// Transitions returns nil when no transition log is configured.
type LifecycleManager interface {
	Crate() CrateController
	Transitions() TransitionLog
	Gatherer() prometheus.Gatherer
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}

var _ CrateController = (*manager.Controller)(nil)
