// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package client

// goroutines have no portable thread identity outside linux
func currentThreadID() uint64 {
	return 0
}
