// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"

	"github.com/x448/float16"
)

// TensorStringDefaultPrecision used by Tensor.String.
const TensorStringDefaultPrecision = 4

// maxSummaryElements is the number of leading elements printed by Summary.
const maxSummaryElements = 6

// String converts to string. It uses t.Summary(precision=4).
func (t *Tensor) String() string {
	return t.Summary(TensorStringDefaultPrecision)
}

// Summary returns a one-line summary of the tensor: its shape and its first few flat values.
func (t *Tensor) Summary(precision int) string {
	if t == nil {
		return "<nil tensor>"
	}
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	w("%s{", t.shape)
	t.ConstFlatData(func(flat any) {
		var values []float64
		switch f := flat.(type) {
		case []float32:
			for _, v := range f[:min(len(f), maxSummaryElements)] {
				values = append(values, float64(v))
			}
		case []float64:
			values = append(values, f[:min(len(f), maxSummaryElements)]...)
		case []float16.Float16:
			for _, v := range f[:min(len(f), maxSummaryElements)] {
				values = append(values, float64(v.Float32()))
			}
		}
		for ii, v := range values {
			if ii > 0 {
				w(", ")
			}
			w("%.*g", precision, v)
		}
		if t.Size() > len(values) {
			w(", ...")
		}
	})
	w("}")
	return buf.String()
}
