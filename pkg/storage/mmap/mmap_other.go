//go:build !unix

package mmap

import "errors"

func mmapFile(fd uintptr, size int) ([]byte, error) {
	return nil, errors.New("memory mapping not supported on this platform")
}

func munmapFile(data []byte) error { return nil }
