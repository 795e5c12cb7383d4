package daemon

const (
	// HeaderUser carries the user a request is made for
	HeaderUser = "X-Wsmaster-User"
	// HeaderAccount carries the account passed to the workspace hooks
	HeaderAccount = "X-Wsmaster-Account"
)

var (
	routeHealth           = "/health"
	routeVersion          = "/version"
	routeValidate         = "/validate"
	routeWorkspaces       = "/workspaces"
	routeWorkspace        = "/workspaces/:id"
	routeWorkspaceByName  = "/workspace-names/:name"
	routeStartWorkspace   = "/workspaces/:id/start"
	routeStopWorkspace    = "/workspaces/:id/stop"
	routeSnapshot         = "/workspaces/:id/snapshot"
	routeRuntimeWorkspace = "/workspaces/:id/runtime"
	routeRuntimes         = "/runtimes"
	routeTemporary        = "/temporary"
	routeEvents           = "/events"
)
