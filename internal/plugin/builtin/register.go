package builtin

import "github.com/antinvestor/codereview/internal/plugin"

// Table lists every plugin shipped with the reviewer.
func Table() plugin.Table {
	return plugin.Table{
		{ID: SecurityPluginID, Factory: func() plugin.Plugin { return NewSecurityScanner() }},
		{ID: ArchitecturePluginID, Factory: func() plugin.Plugin { return NewArchitectureLinter() }},
		{ID: LinterPluginID, Factory: func() plugin.Plugin { return NewStyleLinter() }},
	}
}
