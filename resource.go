package zinvul

import (
	"log/slog"
)

// resource links a buffer or kernel to its owning device. Every resource
// is created with an explicit device reference; there is no back-pointer
// from the device to its resources.
type resource struct {
	owner Device
	ident Identity
}

// attach binds r to dev and issues its id. It panics if dev is nil.
func (r *resource) attach(dev Device, name string) {
	if dev == nil {
		panic("zinvul: resource created without a device")
	}
	r.owner = dev
	r.ident = newIdentity(dev.base().issueID(), name)
	r.ident.captureSite(3)
}

// device returns the owning device. It panics if r was never attached.
func (r *resource) device() Device {
	if r.owner == nil {
		panic("zinvul: resource is not attached to a device")
	}
	return r.owner
}

// Identity returns the resource identity.
func (r *resource) Identity() *Identity {
	return &r.ident
}

// Backend returns the backend of the owning device.
func (r *resource) Backend() Backend {
	return r.device().Backend()
}

func (r *resource) allocator() *Allocator {
	return r.device().Allocator()
}

func (r *resource) debug() bool {
	return r.device().Debug()
}

func (r *resource) logger() *slog.Logger {
	return r.device().base().logger()
}
