// Package power carries out suspend and power-off, and owns the
// guaranteed-sleep policy that keeps suspend from resolving to hibernate.
package power

import "github.com/cptspacemanspiff/idleforce/internal/privileged"

// Units masked to keep the sleep paths away from hibernation.
var hibernateUnits = []string{
	"hibernate.target",
	"hybrid-sleep.target",
	"suspend-then-hibernate.target",
}

// SuspendOperation suspends to memory. force ignores inhibitor locks held by
// applications.
func SuspendOperation(force bool) privileged.Operation {
	args := []string{"suspend"}
	if force {
		args = append(args, "--ignore-inhibitors")
	}
	return privileged.Operation{Name: "suspend", Path: "systemctl", Args: args}
}

// PowerOffOperation powers off immediately.
func PowerOffOperation() privileged.Operation {
	return privileged.Operation{Name: "poweroff", Path: "systemctl", Args: []string{"poweroff", "--no-wall"}}
}

// DisableHibernationOperation masks the hibernation targets. It needs
// elevation.
func DisableHibernationOperation() privileged.Operation {
	return privileged.Operation{
		Name: "disable-hibernation",
		Path: "systemctl",
		Args: append([]string{"mask"}, hibernateUnits...),
	}
}
