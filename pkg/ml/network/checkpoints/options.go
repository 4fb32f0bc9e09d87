// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

// BinFormat defines the type for representing the compression of the tensor data of a checkpoint.
type BinFormat int

const (
	// BinGZIP represents the GZIP compressed binary format. It is the default.
	BinGZIP BinFormat = iota

	// BinUncompressed represents the uncompressed binary format.
	BinUncompressed
)

// String implements the Stringer interface.
func (bf BinFormat) String() string {
	switch bf {
	case BinGZIP:
		return "gzip"
	case BinUncompressed:
		return "uncompressed"
	default:
		return "unknown"
	}
}

// binFormatFromString is the inverse of BinFormat.String.
func binFormatFromString(name string) (BinFormat, bool) {
	switch name {
	case BinGZIP.String():
		return BinGZIP, true
	case BinUncompressed.String():
		return BinUncompressed, true
	}
	return BinGZIP, false
}

type saveOptions struct {
	binFormat BinFormat
	runID     string
}

// Option allows parameterizing Save.
type Option func(opts *saveOptions)

func collectOptions(options ...Option) *saveOptions {
	opts := &saveOptions{}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// WithCompression defines the compression format of the tensor data. The default mode is BinGZIP.
func WithCompression(bf BinFormat) Option {
	return func(op *saveOptions) {
		op.binFormat = bf
		if bf != BinGZIP && bf != BinUncompressed {
			op.binFormat = BinGZIP
		}
	}
}

// WithRunID sets the identifier of the run that produced the checkpoint. By default a random UUID is used.
func WithRunID(runID string) Option {
	return func(op *saveOptions) {
		op.runID = runID
	}
}
