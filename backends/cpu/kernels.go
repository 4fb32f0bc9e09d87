package cpu

import (
	"math"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/internal/workerspool"
	"github.com/prunekit/prunekit/pkg/core/tensors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ChannelNorms implements backends.Backend.
func (b *Backend) ChannelNorms(t *tensors.Tensor, p int) (norms []float64, err error) {
	if !t.Ok() {
		return nil, errors.New("cpu.ChannelNorms: invalid tensor")
	}
	if p != 1 && p != 2 {
		return nil, errors.Errorf("cpu.ChannelNorms: only L1 and L2 norms are supported, got p=%d", p)
	}
	if t.Rank() < 1 {
		return nil, errors.Errorf("cpu.ChannelNorms: tensor %s has no channel axis", t.Shape())
	}
	numChannels := t.Shape().Dim(0)
	sliceSize := t.Size() / numChannels
	t.ConstFlatData(func(flat any) {
		switch f := flat.(type) {
		case []float32:
			norms = channelNorms(b.workers, f, numChannels, sliceSize, p)
		case []float64:
			norms = channelNorms(b.workers, f, numChannels, sliceSize, p)
		case []float16.Float16:
			converted := make([]float32, len(f))
			for ii, v := range f {
				converted[ii] = v.Float32()
			}
			norms = channelNorms(b.workers, converted, numChannels, sliceSize, p)
		default:
			err = errors.Errorf("cpu.ChannelNorms: dtype %s not supported", t.DType())
		}
	})
	return
}

// minParallelElements is the minimum number of elements per worker when computing channel norms.
const minParallelElements = 1 << 14

// channelNorms splits the channels among the workers.
func channelNorms[T constraints.Float](workers *workerspool.Pool, flat []T, numChannels, sliceSize, p int) []float64 {
	norms := make([]float64, numChannels)
	minChannels := max(1, minParallelElements/max(sliceSize, 1))
	workers.ForEach(numChannels, minChannels, func(start, end int) {
		channelNormsRange(flat, norms, start, end, sliceSize, p)
	})
	return norms
}

// channelNormsRange accumulates each channel in float64 in flat order, so results don't depend on parallelism.
func channelNormsRange[T constraints.Float](flat []T, norms []float64, start, end, sliceSize, p int) {
	for ch := start; ch < end; ch++ {
		var sum float64
		for _, v := range flat[ch*sliceSize : (ch+1)*sliceSize] {
			x := float64(v)
			if p == 1 {
				sum += math.Abs(x)
			} else {
				sum += x * x
			}
		}
		if p == 2 {
			sum = math.Sqrt(sum)
		}
		norms[ch] = sum
	}
}

// Remove implements backends.Backend.
func (b *Backend) Remove(t *tensors.Tensor, axis int, indices []int) (*tensors.Tensor, error) {
	if !t.Ok() {
		return nil, errors.New("cpu.Remove: invalid tensor")
	}
	shape := t.Shape()
	if axis < 0 || axis >= shape.Rank() {
		return nil, errors.Errorf("cpu.Remove: axis %d out of range for tensor %s", axis, shape)
	}
	dim := shape.Dim(axis)
	for ii, idx := range indices {
		if idx < 0 || idx >= dim {
			return nil, errors.Errorf("cpu.Remove: index %d out of range for axis %d of tensor %s", idx, axis, shape)
		}
		if ii > 0 && idx <= indices[ii-1] {
			return nil, errors.Errorf("cpu.Remove: indices must be sorted and unique, got %v", indices)
		}
	}
	if len(indices) >= dim {
		return nil, errors.Errorf("cpu.Remove: cannot remove all %d slices of axis %d of tensor %s", dim, axis, shape)
	}
	if len(indices) == 0 {
		return t.Clone(), nil
	}

	removed := make([]bool, dim)
	for _, idx := range indices {
		removed[idx] = true
	}
	// outer: product of axes before axis; inner: product of axes after axis.
	outer, inner := 1, 1
	for a, d := range shape.Dimensions {
		if a < axis {
			outer *= d
		} else if a > axis {
			inner *= d
		}
	}
	newDims := shape.WithDim(axis, dim-len(indices)).Dimensions

	var (
		newFlat any
		err     error
	)
	t.ConstFlatData(func(flat any) {
		switch f := flat.(type) {
		case []float32:
			newFlat = removeSlices(f, outer, dim, inner, removed)
		case []float64:
			newFlat = removeSlices(f, outer, dim, inner, removed)
		case []float16.Float16:
			newFlat = removeSlices(f, outer, dim, inner, removed)
		default:
			err = errors.Errorf("cpu.Remove: dtype %s not supported", t.DType())
		}
	})
	if err != nil {
		return nil, err
	}
	return tensors.FromAnyFlatData(newFlat, newDims...)
}

// removeSlices copies flat, viewed as [outer, dim, inner], skipping the removed entries of the middle axis.
func removeSlices[T any](flat []T, outer, dim, inner int, removed []bool) []T {
	kept := 0
	for _, r := range removed {
		if !r {
			kept++
		}
	}
	result := make([]T, 0, outer*kept*inner)
	for o := range outer {
		base := o * dim * inner
		for d := range dim {
			if removed[d] {
				continue
			}
			result = append(result, flat[base+d*inner:base+(d+1)*inner]...)
		}
	}
	return result
}
