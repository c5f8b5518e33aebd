package taskcore

import (
	"context"

	"github.com/concurrency-kit/taskcore/core"
)

// Re-exports of core so callers that only need the top-level surface
// don't have to import the core subpackage directly.

type (
	TaskID        = core.TaskID
	TaskMode      = core.TaskMode
	TaskPriority  = core.TaskPriority
	Task          = core.Task
	RunnableTask  = core.RunnableTask
	Collaborators = core.Collaborators
	Logger        = core.Logger
	Field         = core.Field
	Metrics       = core.Metrics
	PanicHandler  = core.PanicHandler
	ValueResolver = core.ValueResolver

	SupplierConfig = core.SupplierConfig
	ExecutorConfig = core.ExecutorConfig
	GroupConfig    = core.GroupConfig

	ThreadSupplier     = core.ThreadSupplier
	QueuedTaskExecutor = core.QueuedTaskExecutor
	ExecutorGroup      = core.ExecutorGroup

	SupplierStats = core.SupplierStats
	ExecutorStats = core.ExecutorStats
	GroupStats    = core.GroupStats

	AdmissionError = core.AdmissionError
)

const (
	ModeSync      = core.ModeSync
	ModeAsync     = core.ModeAsync
	ModePureAsync = core.ModePureAsync

	PriorityLow    = core.PriorityLow
	PriorityNormal = core.PriorityNormal
	PriorityHigh   = core.PriorityHigh
)

// F builds a log Field.
func F(key string, value any) Field { return core.F(key, value) }

// NewExecutorGroup creates an ExecutorGroup; see core.NewExecutorGroup.
func NewExecutorGroup(cfg GroupConfig, supplierCfg *SupplierConfig, collab Collaborators) *ExecutorGroup {
	return core.NewExecutorGroup(cfg, supplierCfg, collab)
}

// CreateGroupProducerTask builds a typed ProducerTask admitted through g.
// A package-level function since Go methods can't introduce their own
// type parameter.
func CreateGroupProducerTask[T any](g *ExecutorGroup, fn func(ctx context.Context) (T, error), priority TaskPriority) *core.ProducerTask[T] {
	return core.CreateGroupProducerTask(g, fn, priority)
}

// GenerateTaskID returns a fresh, globally unique TaskID.
func GenerateTaskID() TaskID { return core.GenerateTaskID() }
