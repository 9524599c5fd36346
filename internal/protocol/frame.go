// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// ConnectionType is the first byte sent by every peer
type ConnectionType uint8

const (
	// EventSource peers stream probe events and never receive anything
	EventSource ConnectionType = 0
	// Observer peers receive correlated batches
	Observer ConnectionType = 1
)

func (c ConnectionType) String() string {
	switch c {
	case EventSource:
		return "event-source"
	case Observer:
		return "observer"
	}
	return fmt.Sprintf("connection-type(%d)", uint8(c))
}

var (
	ErrUnknownConnectionType = errors.New("unknown connection type")
	ErrMalformedHandshake    = errors.New("malformed observer handshake")
	ErrBatchTooLarge         = errors.New("batch exceeds maximum size")
)

// ReadConnectionType reads and validates the connection type tag
func ReadConnectionType(r io.Reader) (ConnectionType, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	switch ct := ConnectionType(b[0]); ct {
	case EventSource, Observer:
		return ct, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownConnectionType, b[0])
	}
}

// WriteConnectionType sends the connection type tag
func WriteConnectionType(w io.Writer, ct ConnectionType) error {
	_, err := w.Write([]byte{byte(ct)})
	return err
}

// WriteEvent encodes e and writes it as one length prefixed frame
func WriteEvent(w io.Writer, e ProbeEvent) error {
	payload, err := EncodeEvent(e)
	if err != nil {
		return err
	}
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, byte(len(payload)))
	frame = append(frame, payload...)
	_, err = w.Write(frame)
	return err
}

// ReadEvent reads one frame and decodes it. io.EOF is returned unwrapped
// when the peer closed the connection between frames.
func ReadEvent(r io.Reader) (ProbeEvent, error) {
	var size [1]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return ProbeEvent{}, err
	}

	payload := make([]byte, size[0])
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return ProbeEvent{}, fmt.Errorf("truncated frame: %w", err)
	}
	return DecodeEvent(payload)
}

// Observer handshake
const (
	// RepositoryDelimiter terminates a repository reference
	RepositoryDelimiter = '#'
	// NoRepository is sent by observers that do not launch a process
	NoRepository = "none"
	// MaxHandshakeSize bounds the repository reference including the delimiter
	MaxHandshakeSize = 1024
)

// ReadHandshake reads the repository reference of an observer. It returns
// an empty string for pure observers: peers sending "none#", an empty
// reference, or nothing but a bare "none" before EOF or a read deadline.
// A bare "none" may be the prefix of a reference still in flight, so it is
// only accepted once the peer has gone quiet.
func ReadHandshake(r io.Reader) (string, error) {
	buf := make([]byte, 0, 64)
	chunk := make([]byte, MaxHandshakeSize)
	for {
		n, err := r.Read(chunk[:MaxHandshakeSize-len(buf)])
		buf = append(buf, chunk[:n]...)

		if repo, ok, perr := parseHandshake(buf); ok || perr != nil {
			return repo, perr
		}
		if len(buf) >= MaxHandshakeSize {
			return "", fmt.Errorf("%w: no delimiter within %d bytes", ErrMalformedHandshake, MaxHandshakeSize)
		}
		if err != nil {
			// peers that close or stay silent without sending a reference are pure observers
			silent := errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded)
			if trimmed := bytes.Trim(buf, "\x00"); silent && (len(trimmed) == 0 || string(trimmed) == NoRepository) {
				return "", nil
			}
			return "", err
		}
	}
}

// parseHandshake reports whether buf holds a complete handshake
func parseHandshake(buf []byte) (string, bool, error) {
	trimmed := bytes.Trim(buf, "\x00")
	i := bytes.IndexByte(trimmed, RepositoryDelimiter)
	if i < 0 {
		return "", false, nil
	}
	if i != len(trimmed)-1 {
		return "", false, fmt.Errorf("%w: data after delimiter", ErrMalformedHandshake)
	}

	repo := bytes.Trim(trimmed[:i], "\x00")
	if !utf8.Valid(repo) {
		return "", false, fmt.Errorf("%w: reference is not valid utf-8", ErrMalformedHandshake)
	}
	if string(repo) == NoRepository {
		return "", true, nil
	}
	return string(repo), true, nil
}

// WriteHandshake sends the repository reference; an empty repo announces a
// pure observer as "none#"
func WriteHandshake(w io.Writer, repo string) error {
	if repo == "" {
		repo = NoRepository
	}
	msg := repo + string(RepositoryDelimiter)
	if len(msg) > MaxHandshakeSize {
		return fmt.Errorf("%w: reference longer than %d bytes", ErrMalformedHandshake, MaxHandshakeSize-1)
	}
	_, err := io.WriteString(w, msg)
	return err
}

// MaxBatchSize bounds a batch frame accepted by ReadBatchFrame
const MaxBatchSize = 256 << 20

// BatchFrame prefixes payload with its big endian u32 length
func BatchFrame(payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}

// ReadBatchFrame reads one length prefixed batch and returns its payload
func ReadBatchFrame(r io.Reader) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(size[:])
	if n > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBatchTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("truncated batch: %w", err)
	}
	return payload, nil
}
