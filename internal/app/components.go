package app

import (
	"github.com/chameleoncloud/doni/internal/app/storage"
	"github.com/chameleoncloud/doni/internal/events"
	"github.com/chameleoncloud/doni/internal/executor"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/reconcile"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Coordinator runs the reconciliation loop
	Coordinator reconcile.Coordinator

	// Executor runs worker invocations
	Executor *executor.Executor

	// HardwareService provides the hardware business logic
	HardwareService service.HardwareService

	// Hardware and States are the stores the service and coordinator share
	Hardware hardware.Store
	States   *state.Service

	// Storage owns the backend the stores were created from
	Storage storage.Factory

	// NATS is the event sink connection (optional)
	NATS *events.NATSEmitter

	// Telemetry holds the OpenTelemetry providers (optional)
	Telemetry *telemetry.Telemetry
}
