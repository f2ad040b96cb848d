package tools

import (
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/execute"
	"github.com/mcp-jive/jive/internal/memory"
	"github.com/mcp-jive/jive/internal/progress"
	"github.com/mcp-jive/jive/internal/search"
	syncsvc "github.com/mcp-jive/jive/internal/sync"
	"github.com/mcp-jive/jive/internal/workitem"
)

// Deps are the subsystems the tools are built over.
type Deps struct {
	Items    *workitem.Repo
	Memory   *memory.Repo
	Exec     *execute.Engine
	Progress *progress.Tracker
	Sync     *syncsvc.Service
	Search   *search.Engine
	Logger   *zap.Logger
}

// DefaultRegistry builds the registry holding all eight tools.
func DefaultRegistry(deps Deps) (*Registry, error) {
	registry := NewRegistry()
	for _, tool := range []Tool{
		NewManageWorkItem(deps.Items),
		NewGetWorkItem(deps.Items),
		NewSearchContent(deps.Search),
		NewGetHierarchy(deps.Items),
		NewExecuteWorkItem(deps.Exec),
		NewTrackProgress(deps.Progress),
		NewSyncData(deps.Sync),
		NewMemory(deps.Memory),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
