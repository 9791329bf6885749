// Package mmap exposes raw little-endian float32 data files as slices
// without copying them onto the heap.
//
// Where mapping is not available, or the host is big-endian, the file is
// decoded into memory instead; callers see the same API either way.
package mmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"
)

// Float32File is an open data file. Values stays valid until Close.
type Float32File struct {
	data   []byte
	values []float32
}

// OpenFloat32 maps the file at path read-only.
func OpenFloat32(path string) (*Float32File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size%4 != 0 {
		return nil, fmt.Errorf("%s: size %d is not a multiple of 4 bytes", path, size)
	}
	if size == 0 {
		return &Float32File{}, nil
	}

	if littleEndianHost() {
		data, err := mmapFile(f.Fd(), int(size))
		if err == nil {
			values := unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), size/4)
			return &Float32File{data: data, values: values}, nil
		}
	}

	// Fallback: decode into the heap.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	values := make([]float32, size/4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, values); err != nil {
		return nil, err
	}
	return &Float32File{values: values}, nil
}

func (m *Float32File) Values() []float32 { return m.values }

func (m *Float32File) Len() int { return len(m.values) }

// Mapped reports whether the values live in mapped memory.
func (m *Float32File) Mapped() bool { return m.data != nil }

// Close releases the mapping. Values must not be used afterwards.
func (m *Float32File) Close() error {
	m.values = nil
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return munmapFile(data)
}

func littleEndianHost() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}
