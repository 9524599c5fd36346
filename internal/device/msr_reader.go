// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// RegisterReader reads raw 64-bit model specific registers of one CPU
type RegisterReader interface {
	// Name returns a human-readable name for the reader implementation
	Name() string

	// Init performs the one time platform setup required before reading
	Init() error

	// Read returns the raw value of the register at address
	Read(address uint64) (uint64, error)

	// Close releases any resources held by the reader
	Close() error
}

// DefaultMSRPath is the device path template of the msr kernel module
const DefaultMSRPath = "/dev/cpu/%d/msr"

// msrReader implements RegisterReader on top of the Linux msr driver
type msrReader struct {
	devicePath string // MSR device path template
	cpu        int
	logger     *slog.Logger

	mu   sync.RWMutex
	file *os.File
}

var _ RegisterReader = (*msrReader)(nil)

// NewMSRReader creates a reader for the MSR device of the given cpu
func NewMSRReader(devicePath string, cpu int, logger *slog.Logger) *msrReader {
	if logger == nil {
		logger = slog.Default()
	}
	if devicePath == "" {
		devicePath = DefaultMSRPath
	}

	return &msrReader{
		devicePath: devicePath,
		cpu:        cpu,
		logger:     logger.With("service", "msr-reader"),
	}
}

func (m *msrReader) Name() string {
	return "msr"
}

func (m *msrReader) path() string {
	return fmt.Sprintf(m.devicePath, m.cpu)
}

// Init opens the MSR device file; it requires the msr module to be loaded
// and the process to hold CAP_SYS_RAWIO
func (m *msrReader) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		return nil
	}

	path := m.path()
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open MSR file %s: %w", path, err)
	}
	m.file = file

	m.logger.Info("MSR reader initialized", "path", path)
	return nil
}

// Read reads 8 bytes at offset address of the MSR device
func (m *msrReader) Read(address uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.file == nil {
		return 0, fmt.Errorf("MSR file not opened for CPU %d", m.cpu)
	}

	buf := make([]byte, 8)
	n, err := unix.Pread(int(m.file.Fd()), buf, int64(address))
	if err != nil {
		return 0, fmt.Errorf("failed to read MSR 0x%x from CPU %d: %w", address, m.cpu, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("short read of MSR 0x%x from CPU %d: %d bytes", address, m.cpu, n)
	}

	return binary.LittleEndian.Uint64(buf), nil
}

func (m *msrReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
