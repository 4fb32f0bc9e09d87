// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"strings"
)

// columnNames returns short names for the checkpoint paths: the file name without extension, prefixed by
// as many parent directories as needed to tell them apart.
func columnNames(paths []string) []string {
	parts := make([][]string, len(paths))
	maxDepth := 0
	for ii, path := range paths {
		path = filepath.Clean(path)
		path = strings.TrimSuffix(path, filepath.Ext(path))
		parts[ii] = strings.Split(path, string(filepath.Separator))
		maxDepth = max(maxDepth, len(parts[ii]))
	}
	names := make([]string, len(paths))
	for depth := 1; depth <= maxDepth; depth++ {
		seen := make(map[string]int, len(paths))
		for ii, p := range parts {
			names[ii] = strings.Join(p[max(0, len(p)-depth):], string(filepath.Separator))
			seen[names[ii]]++
		}
		if len(seen) == len(paths) {
			break
		}
	}
	return names
}
