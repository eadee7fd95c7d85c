package pdu

import "fmt"

// Operation is a power operation accepted by the tool.
type Operation string

const (
	OpOn     Operation = "on"
	OpOff    Operation = "off"
	OpReboot Operation = "reboot"
	OpStatus Operation = "status"
)

// ParseOperation validates an operation string.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpOn, OpOff, OpReboot, OpStatus:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Outlet is one switchable socket as reported by the monitor endpoint.
// State vocabulary is owned by the controller and treated as opaque.
type Outlet struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Group is a controller-defined collection of outlets.
type Group struct {
	Name         string   `json:"name"`
	OutletAccess []string `json:"outlet_access"`
}

// Target pairs an outlet or group name with the operation requested for it.
type Target struct {
	Name      string    `json:"name"`
	Operation Operation `json:"operation,omitempty"`
}

// CommandOutcome records the final result of one control command against
// one target. It exists for reporting only.
type CommandOutcome struct {
	Host      string
	Kind      string // "outlet" or "group"
	Target    string
	Operation Operation
	Err       error
}

// OK reports whether the command was accepted by the controller.
func (o CommandOutcome) OK() bool {
	return o.Err == nil
}
