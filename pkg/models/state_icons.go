package models

// StateIcon maps an OperationalState to its icon identifier.
// Identifiers use Lucide icon names (https://lucide.dev) for
// compatibility with the dashboard.
var StateIcon = map[OperationalState]string{
	StateOnline:      "printer",
	StateOffline:     "printer-x",
	StateError:       "alert-octagon",
	StateMaintenance: "wrench",
}

// Icon returns the icon identifier for a state.
// Returns "help-circle" for unrecognised states.
func (s OperationalState) Icon() string {
	if icon, ok := StateIcon[s]; ok {
		return icon
	}
	return "help-circle"
}
