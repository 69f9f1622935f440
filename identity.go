package zinvul

import (
	"fmt"
	"runtime"
)

// NumHandleSlots is the number of opaque backend handle slots an Identity carries.
const NumHandleSlots = 4

// Identity holds the id, debug metadata and opaque backend handles of an
// engine object. Ids are issued by the owning device and never reused
// within that device.
type Identity struct {
	id      uint64
	name    string
	file    string
	line    int
	handles [NumHandleSlots]uintptr
}

func newIdentity(id uint64, name string) Identity {
	return Identity{id: id, name: name}
}

// ID returns the numeric id.
func (i *Identity) ID() uint64 {
	return i.id
}

// Name returns the debug name, possibly empty.
func (i *Identity) Name() string {
	return i.name
}

// SetName sets the debug name.
func (i *Identity) SetName(name string) {
	i.name = name
}

// Site returns the recorded creation site.
func (i *Identity) Site() (file string, line int) {
	return i.file, i.line
}

// SetSite records the creation site.
func (i *Identity) SetSite(file string, line int) {
	i.file = file
	i.line = line
}

// captureSite records the caller skip frames above captureSite.
func (i *Identity) captureSite(skip int) {
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		i.SetSite(file, line)
	}
}

// Handle returns the opaque handle stored in slot.
// It panics if slot is out of range.
func (i *Identity) Handle(slot int) uintptr {
	checkSlot(slot)
	return i.handles[slot]
}

// SetHandle stores an opaque handle in slot.
// It panics if slot is out of range.
func (i *Identity) SetHandle(slot int, h uintptr) {
	checkSlot(slot)
	i.handles[slot] = h
}

// String formats the identity for log output.
func (i *Identity) String() string {
	if i.name == "" {
		return fmt.Sprintf("#%d", i.id)
	}
	return fmt.Sprintf("%s#%d", i.name, i.id)
}

func checkSlot(slot int) {
	if slot < 0 || slot >= NumHandleSlots {
		panic(fmt.Sprintf("zinvul: handle slot %d out of range [0,%d)", slot, NumHandleSlots))
	}
}
