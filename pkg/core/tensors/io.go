// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/core/shapes"
)

// Write the raw tensor content to w, little-endian, and return the number of bytes written.
// The shape is not written: it is the caller's job to store it alongside (see the checkpoints package).
func (t *Tensor) Write(w io.Writer) (n int, err error) {
	t.ConstFlatData(func(flat any) {
		err = binary.Write(w, binary.LittleEndian, flat)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "writing tensor %s", t.shape)
	}
	return int(t.shape.Memory()), nil
}

// Read a tensor of the given shape from r, as written by Tensor.Write.
// It reads exactly shape.Memory() bytes.
func Read(r io.Reader, shape shapes.Shape) (*Tensor, error) {
	if !shape.DType.IsFloat() {
		return nil, errors.Errorf("tensors.Read(%s): dtype not supported", shape)
	}
	t := FromShape(shape)
	var err error
	t.MutableFlatData(func(flat any) {
		err = binary.Read(r, binary.LittleEndian, flat)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading tensor %s", shape)
	}
	return t, nil
}
