package zinvul

import (
	"fmt"
	"reflect"
)

// AddressSpace says where a kernel parameter lives.
type AddressSpace uint8

const (
	// SpaceGlobal parameters are backed by a Buffer argument.
	SpaceGlobal AddressSpace = iota

	// SpaceLocal parameters are per-invocation scratch memory.
	SpaceLocal
)

func (s AddressSpace) String() string {
	if s == SpaceLocal {
		return "local"
	}
	return "global"
}

// Representation says how a parameter value is handed to the entry point.
type Representation uint8

const (
	// RepBuffer parameters are passed as element slices.
	RepBuffer Representation = iota

	// RepPod parameters are passed by value, read from element 0 of the
	// bound buffer.
	RepPod
)

func (r Representation) String() string {
	if r == RepPod {
		return "pod"
	}
	return "buffer"
}

// DescriptorKind distinguishes uniform from storage buffer bindings.
type DescriptorKind uint8

const (
	// DescriptorUniform buffers hold small read-only values.
	DescriptorUniform DescriptorKind = iota

	// DescriptorStorage buffers are general read-write arrays.
	DescriptorStorage
)

func (k DescriptorKind) String() string {
	if k == DescriptorUniform {
		return "uniform"
	}
	return "storage"
}

// Param declares one kernel parameter. Build it with GlobalParam,
// ConstGlobalParam, PodParam, LocalParam or ConstLocalParam.
type Param struct {
	Space AddressSpace
	Rep   Representation
	Const bool

	// Len is the element count of a local scratch parameter.
	Len int

	elem     reflect.Type
	newLocal func(n int) any
}

// Elem returns the element type of the parameter.
func (p Param) Elem() reflect.Type { return p.elem }

// GlobalParam declares a writable buffer parameter of T.
func GlobalParam[T any]() Param {
	return Param{Space: SpaceGlobal, Rep: RepBuffer, elem: typeOf[T]()}
}

// ConstGlobalParam declares a read-only buffer parameter of T.
func ConstGlobalParam[T any]() Param {
	return Param{Space: SpaceGlobal, Rep: RepBuffer, Const: true, elem: typeOf[T]()}
}

// PodParam declares a scalar parameter of T, bound from a one-element
// uniform buffer and passed to the entry point by value.
func PodParam[T any]() Param {
	return Param{Space: SpaceGlobal, Rep: RepPod, Const: true, elem: typeOf[T]()}
}

// LocalParam declares n elements of writable scratch memory.
func LocalParam[T any](n int) Param {
	return Param{
		Space:    SpaceLocal,
		Rep:      RepBuffer,
		Len:      n,
		elem:     typeOf[T](),
		newLocal: func(n int) any { return make([]T, n) },
	}
}

// ConstLocalParam declares read-only scratch memory. Kernels using it are
// rejected; it exists so parameter tables can be validated.
func ConstLocalParam[T any](n int) Param {
	p := LocalParam[T](n)
	p.Const = true
	return p
}

// ParamClass is the classification of one parameter.
type ParamClass struct {
	Index    int
	Space    AddressSpace
	Rep      Representation
	Const    bool
	Kind     DescriptorKind
	ElemName string
	ElemSize uintptr
}

// Classification summarizes a kernel parameter list. Every index list
// preserves the original parameter order.
type Classification struct {
	Params []ParamClass

	NumGlobal  int
	NumLocal   int
	NumStorage int
	NumUniform int

	HasConstLocal bool

	GlobalIndices []int
	LocalIndices  []int
}

// NumParams returns the total parameter count.
func (c Classification) NumParams() int {
	return len(c.Params)
}

// Validate reports parameter lists that cannot form a kernel.
func (c Classification) Validate() error {
	if c.HasConstLocal {
		for _, p := range c.Params {
			if p.Space == SpaceLocal && p.Const {
				return fmt.Errorf("parameter %d: %w", p.Index, ErrConstLocal)
			}
		}
	}
	return nil
}

// Classify folds params head to tail into a Classification. It has no side
// effects: equal inputs give equal outputs.
func Classify(params []Param) Classification {
	c := Classification{
		Params:        make([]ParamClass, 0, len(params)),
		GlobalIndices: []int{},
		LocalIndices:  []int{},
	}
	for i, p := range params {
		c = classifyStep(c, i, p)
	}
	return c
}

func classifyStep(c Classification, index int, p Param) Classification {
	pc := ParamClass{
		Index: index,
		Space: p.Space,
		Rep:   p.Rep,
		Const: p.Const,
		Kind:  descriptorKindOf(p),
	}
	if p.elem != nil {
		pc.ElemName = p.elem.String()
		pc.ElemSize = p.elem.Size()
	}
	c.Params = append(c.Params, pc)

	switch p.Space {
	case SpaceGlobal:
		c.NumGlobal++
		c.GlobalIndices = append(c.GlobalIndices, index)
		if pc.Kind == DescriptorUniform {
			c.NumUniform++
		} else {
			c.NumStorage++
		}
	case SpaceLocal:
		c.NumLocal++
		c.LocalIndices = append(c.LocalIndices, index)
		if p.Const {
			c.HasConstLocal = true
		}
	}
	return c
}

// descriptorKindOf derives the binding kind: pod values are uniform, every
// other global parameter is storage.
func descriptorKindOf(p Param) DescriptorKind {
	if p.Space == SpaceGlobal && p.Rep == RepPod {
		return DescriptorUniform
	}
	return DescriptorStorage
}
