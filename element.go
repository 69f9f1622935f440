package zinvul

import (
	"reflect"
	"unsafe"
)

// Buffer elements must be fixed-size values without pointers: numeric
// types, arrays of them, or structs of them. GPU buffers copy elements as
// raw bytes in host byte order.

func sizeOf[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// asBytes reinterprets s as its backing bytes without copying.
func asBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), uintptr(len(s))*sizeOf[T]())
}

// bytesAt views n bytes starting at p.
func bytesAt(p unsafe.Pointer, n uint64) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}
