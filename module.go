package zinvul

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/naga"
)

// ModuleID identifies a registered GPU kernel module.
type ModuleID uint32

// spirvMagic is the first word of every SPIR-V binary.
const spirvMagic = 0x07230203

// SPIR-V opcodes and enumerants needed to find and rewrite the work-group
// size of a compute entry point.
const (
	spirvHeaderWords = 5

	opEntryPoint    = 15
	opExecutionMode = 16
	opDecorate      = 71

	execModelGLCompute   = 5
	execModeLocalSize    = 17
	execModeLocalSizeID  = 38
	decorationBuiltIn    = 11
	builtInWorkgroupSize = 25
)

// defaultLocalSizes is the local work-group size per dispatch dimension
// before clamping to adapter limits.
var defaultLocalSizes = [3][3]uint32{
	{64, 1, 1},
	{8, 8, 1},
	{4, 4, 4},
}

// module is a registered source of GPU bytecode.
type module struct {
	id   ModuleID
	name string

	// Exactly one of wgsl and bytecode is set.
	wgsl     string
	bytecode func() []uint32
}

var modules = struct {
	sync.RWMutex
	byID map[ModuleID]module
}{byID: make(map[ModuleID]module)}

// RegisterModule registers precompiled SPIR-V for id. bytecode is called
// once per device, entry point and dimension the first time a kernel of the
// module is built. The LocalSize execution mode of the entry point is
// rewritten to the device local size for the kernel dimension, so the
// module's own work-group size is ignored. Modules that size work-groups
// with LocalSizeId or a WorkgroupSize built-in are rejected.
// Registering an id again replaces the previous module.
func RegisterModule(id ModuleID, name string, bytecode func() []uint32) {
	if bytecode == nil {
		panic("zinvul: RegisterModule called with nil bytecode")
	}
	storeModule(module{id: id, name: name, bytecode: bytecode})
}

// RegisterWGSL registers WGSL source for id. The source is compiled to
// SPIR-V per device, with the device local work-group sizes declared as
// the u32 constants LOCAL_SIZE_<D>D_<AXIS> (for example LOCAL_SIZE_1D_X or
// LOCAL_SIZE_2D_Y) ahead of the source, so entry points can write
//
//	@compute @workgroup_size(LOCAL_SIZE_1D_X, LOCAL_SIZE_1D_Y, LOCAL_SIZE_1D_Z)
func RegisterWGSL(id ModuleID, name, source string) {
	storeModule(module{id: id, name: name, wgsl: source})
}

// UnregisterModule removes id from the registry.
func UnregisterModule(id ModuleID) {
	modules.Lock()
	defer modules.Unlock()
	delete(modules.byID, id)
}

func storeModule(m module) {
	modules.Lock()
	defer modules.Unlock()
	modules.byID[m.id] = m
}

func lookupModule(id ModuleID) (module, error) {
	modules.RLock()
	defer modules.RUnlock()
	m, ok := modules.byID[id]
	if !ok {
		return module{}, fmt.Errorf("module %d: %w", id, ErrUnknownModule)
	}
	return m, nil
}

// compile returns the SPIR-V words of m for a device with the given local
// size table.
func (m module) compile(localSizes [3][3]uint32) ([]uint32, error) {
	if m.bytecode != nil {
		words := m.bytecode()
		if len(words) == 0 || words[0] != spirvMagic {
			return nil, fmt.Errorf("module %d (%s): bytecode is not SPIR-V", m.id, m.name)
		}
		return words, nil
	}
	src := localSizePrelude(localSizes) + m.wgsl
	b, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("module %d (%s): compile: %w", m.id, m.name, err)
	}
	return spirvWords(b)
}

// localSizePrelude declares the local size table as WGSL constants.
func localSizePrelude(t [3][3]uint32) string {
	var sb strings.Builder
	axes := [3]string{"X", "Y", "Z"}
	for d := range 3 {
		for a := range 3 {
			fmt.Fprintf(&sb, "const LOCAL_SIZE_%dD_%s: u32 = %du;\n", d+1, axes[a], t[d][a])
		}
	}
	return sb.String()
}

// spirvWords converts a little-endian SPIR-V byte stream to words.
func spirvWords(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 || len(b) < 4 {
		return nil, fmt.Errorf("zinvul: SPIR-V length %d is not a positive multiple of 4", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("zinvul: bad SPIR-V magic %#08x", words[0])
	}
	return words, nil
}

// walkSPIRV calls fn for every instruction after the header. operands
// aliases words, so fn may rewrite them in place.
func walkSPIRV(words []uint32, fn func(op uint32, operands []uint32)) error {
	if len(words) < spirvHeaderWords || words[0] != spirvMagic {
		return errors.New("zinvul: not a SPIR-V module")
	}
	for i := spirvHeaderWords; i < len(words); {
		n := int(words[i] >> 16)
		if n == 0 || i+n > len(words) {
			return fmt.Errorf("zinvul: malformed SPIR-V instruction at word %d", i)
		}
		fn(words[i]&0xffff, words[i+1:i+n])
		i += n
	}
	return nil
}

// spirvString decodes a nul-terminated literal string.
func spirvString(operands []uint32) string {
	var b []byte
	for _, w := range operands {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}

// computeEntry returns the function id of the GLCompute entry point named
// entry.
func computeEntry(words []uint32, entry string) (uint32, error) {
	var (
		fn    uint32
		found bool
	)
	err := walkSPIRV(words, func(op uint32, ops []uint32) {
		if op == opEntryPoint && len(ops) >= 3 && ops[0] == execModelGLCompute && spirvString(ops[2:]) == entry {
			fn, found = ops[1], true
		}
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("compute entry point %q: %w", entry, ErrMissingEntry)
	}
	return fn, nil
}

// spirvLocalSize returns the LocalSize execution mode of entry.
func spirvLocalSize(words []uint32, entry string) ([3]uint32, error) {
	fn, err := computeEntry(words, entry)
	if err != nil {
		return [3]uint32{}, err
	}
	var (
		local [3]uint32
		found bool
	)
	_ = walkSPIRV(words, func(op uint32, ops []uint32) {
		if op == opExecutionMode && len(ops) == 5 && ops[0] == fn && ops[1] == execModeLocalSize {
			copy(local[:], ops[2:])
			found = true
		}
	})
	if !found {
		return [3]uint32{}, fmt.Errorf("zinvul: entry point %q has no LocalSize execution mode", entry)
	}
	return local, nil
}

// specializeLocalSize returns a copy of words in which the compute entry
// point named entry runs with the given work-group size.
func specializeLocalSize(words []uint32, entry string, local [3]uint32) ([]uint32, error) {
	out := slices.Clone(words)
	fn, err := computeEntry(out, entry)
	if err != nil {
		return nil, err
	}
	var (
		patched bool
		reject  error
	)
	_ = walkSPIRV(out, func(op uint32, ops []uint32) {
		switch {
		case op == opExecutionMode && len(ops) == 5 && ops[0] == fn && ops[1] == execModeLocalSize:
			copy(ops[2:], local[:])
			patched = true
		case op == opExecutionMode && len(ops) >= 2 && ops[0] == fn && ops[1] == execModeLocalSizeID:
			reject = fmt.Errorf("zinvul: entry point %q sizes work-groups with LocalSizeId", entry)
		case op == opDecorate && len(ops) >= 3 && ops[1] == decorationBuiltIn && ops[2] == builtInWorkgroupSize:
			reject = errors.New("zinvul: module declares a WorkgroupSize built-in")
		}
	})
	if reject != nil {
		return nil, reject
	}
	if !patched {
		return nil, fmt.Errorf("zinvul: entry point %q has no LocalSize execution mode", entry)
	}
	return out, nil
}
