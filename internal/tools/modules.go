package tools

import (
	"fmt"

	"github.com/tyler-agent/tyler/pkg/models"
)

// ModuleWeb and ModuleFiles are the builtin tool module names accepted by
// LoadModule.
const (
	ModuleWeb   = "web"
	ModuleFiles = "files"
)

// LoadModule registers a builtin tool bundle by name.
func (r *Runtime) LoadModule(name string, deps ModuleDeps) error {
	var bundle []Tool
	switch name {
	case ModuleWeb:
		bundle = webModule(deps)
	case ModuleFiles:
		bundle = filesModule(deps)
	default:
		return fmt.Errorf("unknown tool module: %s", name)
	}

	for _, tool := range bundle {
		if err := r.Register(tool); err != nil {
			return err
		}
		if tool.Attributes != nil {
			if err := r.RegisterAttributes(tool.Definition.Name, tool.Attributes); err != nil {
				return err
			}
		}
	}
	r.logger.Info("loaded tool module", "module", name, "tools", len(bundle))
	return nil
}

// ModuleDeps carries the shared dependencies builtin modules may need.
type ModuleDeps struct {
	// Blobs resolves stored attachment content for the files module.
	Blobs models.BlobGetter
	// HTTPClient overrides the web module's default client in tests.
	HTTPClient HTTPDoer
}
