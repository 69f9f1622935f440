package zinvul

import "github.com/x448/float16"

// Half is an IEEE 754 binary16 buffer element.
type Half = float16.Float16

// HalfFromFloat32 converts src into half-precision values.
func HalfFromFloat32(src []float32) []Half {
	dst := make([]Half, len(src))
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v)
	}
	return dst
}

// HalfToFloat32 widens src into float32 values.
func HalfToFloat32(src []Half) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = v.Float32()
	}
	return dst
}

// WriteFloat32 converts src to half precision and writes it into b at offset.
func WriteFloat32(b Buffer[Half], src []float32, offset, queue int) error {
	return b.Write(HalfFromFloat32(src), offset, queue)
}

// ReadFloat32 reads len(dst) half-precision elements from b at offset and
// widens them into dst.
func ReadFloat32(b Buffer[Half], dst []float32, offset, queue int) error {
	tmp := make([]Half, len(dst))
	if err := b.Read(tmp, offset, queue); err != nil {
		return err
	}
	for i, v := range tmp {
		dst[i] = v.Float32()
	}
	return nil
}
