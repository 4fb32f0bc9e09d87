// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package network

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/core/tensors"
)

// Layer is one of the closed set of layer variants: *Conv2D, *Linear, *BatchNorm, *Activation, *Pool,
// *Flatten, *Add, *Concat, *Residual and *Opaque. Code dispatches on it with a type switch.
//
// Layers are not safe for concurrent mutation: the pruning executor takes exclusive ownership of the
// Network while it rewrites them.
type Layer interface {
	// Name of the layer, unique within its network (or within its residual block).
	Name() string

	// Inputs are the names of the layers (or InputName) feeding this layer.
	Inputs() []string

	// Kind of the layer variant.
	Kind() Kind

	// Params lists the tensor slots of the layer. The slots may be nil before initialization.
	Params() []Param

	// Validate checks that the tensors held by the layer agree with its declared channel counts.
	Validate() error

	cloneLayer() Layer
}

// Param is a named tensor slot of a layer. Value points to the layer's field, so it can be read or replaced.
type Param struct {
	Name  string
	Value **tensors.Tensor
}

// Common holds the fields shared by every layer variant.
type Common struct {
	// LayerName is returned by Layer.Name.
	LayerName string

	// From lists the producers of the layer. If empty, the previous layer in definition order
	// is used (InputName for the first layer). It is resolved by network.New.
	From []string
}

// Name implements Layer.
func (c *Common) Name() string { return c.LayerName }

// Inputs implements Layer.
func (c *Common) Inputs() []string { return c.From }

func (c Common) clone() Common {
	return Common{LayerName: c.LayerName, From: slices.Clone(c.From)}
}

// checkParam returns an error if t is nil or if its dimensions differ from dims.
func checkParam(layer Layer, name string, t *tensors.Tensor, dims ...int) error {
	if t == nil {
		return errors.Errorf("layer %q (%s): %s not set", layer.Name(), layer.Kind(), name)
	}
	if !slices.Equal(t.Shape().Dimensions, dims) {
		return errors.Errorf("layer %q (%s): %s has shape %s, expected dimensions %v",
			layer.Name(), layer.Kind(), name, t.Shape(), dims)
	}
	return nil
}

// Conv2D is a 2D convolution with weights shaped [OutChannels, InChannels, KernelH, KernelW].
type Conv2D struct {
	Common
	InChannels, OutChannels   int
	KernelH, KernelW          int
	Stride, Padding, Dilation int

	// UseBias indicates whether Bias [out] is present.
	UseBias bool

	// Weights [out, in, kh, kw] and Bias [out], if UseBias.
	Weights, Bias *tensors.Tensor
}

// NewConv2D returns a square kernel convolution with stride 1, no padding and no bias.
// The tensors are created by Initialize (or loaded from a checkpoint).
func NewConv2D(name string, inChannels, outChannels, kernel int, from ...string) *Conv2D {
	return &Conv2D{
		Common:      Common{LayerName: name, From: from},
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelH:     kernel,
		KernelW:     kernel,
		Stride:      1,
		Dilation:    1,
	}
}

// WithStride sets the stride and returns the convolution.
func (c *Conv2D) WithStride(stride int) *Conv2D {
	c.Stride = stride
	return c
}

// WithPadding sets the (symmetric) padding and returns the convolution.
func (c *Conv2D) WithPadding(padding int) *Conv2D {
	c.Padding = padding
	return c
}

// WithDilation sets the kernel dilation and returns the convolution.
func (c *Conv2D) WithDilation(dilation int) *Conv2D {
	c.Dilation = dilation
	return c
}

// WithBias marks the convolution as having a bias.
func (c *Conv2D) WithBias() *Conv2D {
	c.UseBias = true
	return c
}

// Kind implements Layer.
func (c *Conv2D) Kind() Kind { return KindConvolution }

// Params implements Layer.
func (c *Conv2D) Params() []Param {
	if c.UseBias {
		return []Param{{"weights", &c.Weights}, {"bias", &c.Bias}}
	}
	return []Param{{"weights", &c.Weights}}
}

// Validate implements Layer.
func (c *Conv2D) Validate() error {
	if err := checkParam(c, "weights", c.Weights, c.OutChannels, c.InChannels, c.KernelH, c.KernelW); err != nil {
		return err
	}
	if c.UseBias {
		return checkParam(c, "bias", c.Bias, c.OutChannels)
	}
	return nil
}

func (c *Conv2D) cloneLayer() Layer {
	c2 := *c
	c2.Common = c.Common.clone()
	c2.Weights, c2.Bias = c.Weights.Clone(), c.Bias.Clone()
	return &c2
}

// Linear is a fully connected layer with weights shaped [OutFeatures, InFeatures].
type Linear struct {
	Common
	InFeatures, OutFeatures int

	// UseBias indicates whether Bias [out] is present.
	UseBias bool

	// Weights [out, in] and Bias [out], if UseBias.
	Weights, Bias *tensors.Tensor
}

// NewLinear returns a fully connected layer with bias.
func NewLinear(name string, inFeatures, outFeatures int, from ...string) *Linear {
	return &Linear{
		Common:      Common{LayerName: name, From: from},
		InFeatures:  inFeatures,
		OutFeatures: outFeatures,
		UseBias:     true,
	}
}

// Kind implements Layer.
func (l *Linear) Kind() Kind { return KindLinear }

// Params implements Layer.
func (l *Linear) Params() []Param {
	if l.UseBias {
		return []Param{{"weights", &l.Weights}, {"bias", &l.Bias}}
	}
	return []Param{{"weights", &l.Weights}}
}

// Validate implements Layer.
func (l *Linear) Validate() error {
	if err := checkParam(l, "weights", l.Weights, l.OutFeatures, l.InFeatures); err != nil {
		return err
	}
	if l.UseBias {
		return checkParam(l, "bias", l.Bias, l.OutFeatures)
	}
	return nil
}

func (l *Linear) cloneLayer() Layer {
	l2 := *l
	l2.Common = l.Common.clone()
	l2.Weights, l2.Bias = l.Weights.Clone(), l.Bias.Clone()
	return &l2
}

// DefaultEpsilon used by NewBatchNorm.
const DefaultEpsilon = 1e-5

// BatchNorm normalizes each channel with its running statistics: Scale*(x-Mean)/sqrt(Variance+Epsilon)+Offset.
type BatchNorm struct {
	Common
	Channels int
	Epsilon  float64

	// Scale, Offset, Mean and Variance are all shaped [Channels].
	Scale, Offset, Mean, Variance *tensors.Tensor
}

// NewBatchNorm returns a batch normalization over the given number of channels.
func NewBatchNorm(name string, channels int, from ...string) *BatchNorm {
	return &BatchNorm{Common: Common{LayerName: name, From: from}, Channels: channels, Epsilon: DefaultEpsilon}
}

// Kind implements Layer.
func (b *BatchNorm) Kind() Kind { return KindNormalization }

// Params implements Layer.
func (b *BatchNorm) Params() []Param {
	return []Param{{"scale", &b.Scale}, {"offset", &b.Offset}, {"mean", &b.Mean}, {"variance", &b.Variance}}
}

// Validate implements Layer.
func (b *BatchNorm) Validate() error {
	for _, p := range b.Params() {
		if err := checkParam(b, p.Name, *p.Value, b.Channels); err != nil {
			return err
		}
	}
	return nil
}

func (b *BatchNorm) cloneLayer() Layer {
	b2 := *b
	b2.Common = b.Common.clone()
	b2.Scale, b2.Offset = b.Scale.Clone(), b.Offset.Clone()
	b2.Mean, b2.Variance = b.Mean.Clone(), b.Variance.Clone()
	return &b2
}

// Activation is an element-wise non-linearity, e.g. "relu". It has no parameters.
type Activation struct {
	Common
	Function string
}

// NewActivation returns an element-wise activation layer.
func NewActivation(name, function string, from ...string) *Activation {
	return &Activation{Common: Common{LayerName: name, From: from}, Function: function}
}

// Kind implements Layer.
func (a *Activation) Kind() Kind { return KindActivation }

// Params implements Layer.
func (a *Activation) Params() []Param { return nil }

// Validate implements Layer.
func (a *Activation) Validate() error { return nil }

func (a *Activation) cloneLayer() Layer {
	a2 := *a
	a2.Common = a.Common.clone()
	return &a2
}

// Pool is a channel preserving spatial operation, see PoolType.
type Pool struct {
	Common
	Type PoolType

	// Window, Stride and Padding are used by PoolMax and PoolAvg. Stride 0 means Window.
	Window, Stride, Padding int

	// Factor is used by PoolUpsample.
	Factor int
}

// NewMaxPool returns a max pooling layer.
func NewMaxPool(name string, window, stride, padding int, from ...string) *Pool {
	return &Pool{Common: Common{LayerName: name, From: from}, Type: PoolMax, Window: window, Stride: stride, Padding: padding}
}

// NewAvgPool returns an average pooling layer.
func NewAvgPool(name string, window, stride, padding int, from ...string) *Pool {
	return &Pool{Common: Common{LayerName: name, From: from}, Type: PoolAvg, Window: window, Stride: stride, Padding: padding}
}

// NewGlobalAvgPool returns a global average pooling layer.
func NewGlobalAvgPool(name string, from ...string) *Pool {
	return &Pool{Common: Common{LayerName: name, From: from}, Type: PoolGlobalAvg}
}

// NewUpsample returns a nearest-neighbour upsampling layer.
func NewUpsample(name string, factor int, from ...string) *Pool {
	return &Pool{Common: Common{LayerName: name, From: from}, Type: PoolUpsample, Factor: factor}
}

// Kind implements Layer.
func (p *Pool) Kind() Kind { return KindPooling }

// Params implements Layer.
func (p *Pool) Params() []Param { return nil }

// Validate implements Layer.
func (p *Pool) Validate() error { return nil }

func (p *Pool) cloneLayer() Layer {
	p2 := *p
	p2.Common = p.Common.clone()
	return &p2
}

// Flatten reshapes a [C, H, W] feature map into [C*H*W] features, channel major.
type Flatten struct {
	Common
}

// NewFlatten returns a flatten layer.
func NewFlatten(name string, from ...string) *Flatten {
	return &Flatten{Common: Common{LayerName: name, From: from}}
}

// Kind implements Layer.
func (f *Flatten) Kind() Kind { return KindFlatten }

// Params implements Layer.
func (f *Flatten) Params() []Param { return nil }

// Validate implements Layer.
func (f *Flatten) Validate() error { return nil }

func (f *Flatten) cloneLayer() Layer { return &Flatten{Common: f.Common.clone()} }

// Add sums its inputs element-wise. All inputs must have the same shape, so their channels are coupled.
type Add struct {
	Common
}

// NewAdd returns an element-wise sum of the given inputs.
func NewAdd(name string, from ...string) *Add {
	return &Add{Common: Common{LayerName: name, From: from}}
}

// Kind implements Layer.
func (a *Add) Kind() Kind { return KindAdd }

// Params implements Layer.
func (a *Add) Params() []Param { return nil }

// Validate implements Layer.
func (a *Add) Validate() error {
	if len(a.From) < 2 {
		return errors.Errorf("layer %q (%s): needs at least 2 inputs, got %v", a.LayerName, a.Kind(), a.From)
	}
	return nil
}

func (a *Add) cloneLayer() Layer { return &Add{Common: a.Common.clone()} }

// Concat concatenates its inputs along the channel axis, in the order given.
type Concat struct {
	Common
}

// NewConcat returns a channel concatenation of the given inputs.
func NewConcat(name string, from ...string) *Concat {
	return &Concat{Common: Common{LayerName: name, From: from}}
}

// Kind implements Layer.
func (c *Concat) Kind() Kind { return KindConcat }

// Params implements Layer.
func (c *Concat) Params() []Param { return nil }

// Validate implements Layer.
func (c *Concat) Validate() error {
	if len(c.From) < 2 {
		return errors.Errorf("layer %q (%s): needs at least 2 inputs, got %v", c.LayerName, c.Kind(), c.From)
	}
	return nil
}

func (c *Concat) cloneLayer() Layer { return &Concat{Common: c.Common.clone()} }

// Opaque is a channel preserving layer whose internals are unknown to the pruner (e.g. a custom attention
// module). Any pruning plan whose closure reaches it is rejected.
type Opaque struct {
	Common
	Channels    int
	Description string
}

// NewOpaque returns an opaque layer.
func NewOpaque(name string, channels int, description string, from ...string) *Opaque {
	return &Opaque{Common: Common{LayerName: name, From: from}, Channels: channels, Description: description}
}

// Kind implements Layer.
func (o *Opaque) Kind() Kind { return KindOpaque }

// Params implements Layer.
func (o *Opaque) Params() []Param { return nil }

// Validate implements Layer.
func (o *Opaque) Validate() error { return nil }

func (o *Opaque) cloneLayer() Layer {
	o2 := *o
	o2.Common = o.Common.clone()
	return &o2
}
