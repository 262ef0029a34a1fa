// Package device names the accelerator slots that own pooled buffers and
// stage workers. RISA has no CUDA bindings available in Go; an accelerator
// is modeled as an opaque small integer rather than a device-context handle.
package device

import "fmt"

// ID identifies an accelerator. Host is the reserved id for host-resident
// (pinned) memory and CPU-only stages.
type ID int

// Host is the device id used for host-resident buffers and stages that do
// not distinguish between accelerators.
const Host ID = -1

// String renders the id the way log lines want it: "host" or "gpu3".
func (d ID) String() string {
	if d == Host {
		return "host"
	}
	return fmt.Sprintf("gpu%d", int(d))
}

// Set is a fixed list of accelerator ids a pipeline run was configured with.
// Order is preserved; it is the order workers are started in.
type Set []ID

// HostOnly returns a Set containing only the host device, for stages that
// are not accelerator-parallel (e.g. the Receiver).
func HostOnly() Set { return Set{Host} }
