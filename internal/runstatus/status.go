// Package runstatus defines the runtime status labels shared by the app
// orchestrator and the UI.
package runstatus

const (
	Anonymous        = "Anonymous"
	Authenticated    = "Authenticated"
	Connecting       = "Connecting"
	Connected        = "Connected"
	InRoom           = "In room"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
)
