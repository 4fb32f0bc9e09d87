// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package network defines the Network data model: an ordered list of layers of a closed set of kinds
// (convolutions, linear, batch norms, residual blocks, ...), each naming the layers that feed it.
//
// A Network is built with New, which resolves implicit inputs and validates the wiring, and its tensors
// are created with Initialize or loaded by the checkpoints package.
//
// Layers inside residual blocks are addressed by paths of the form "<block>/<layer>", e.g. "layer2.0/conv1".
package network

import (
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/tensors"
)

const (
	// InputName is the name used in Layer.Inputs to refer to the network input.
	InputName = "input"

	// PathSeparator separates a residual block name from the name of one of its internal layers.
	PathSeparator = "/"
)

// Network is a feed-forward model of channels-first (`[C, H, W]`) feature maps.
type Network struct {
	// Name identifies the model, and is used to build checkpoint file names.
	Name string

	// InputChannels is the number of channels of the network input.
	InputChannels int

	// DType of the weights. Defaults to Float32.
	DType dtypes.DType

	// Layers in definition order, which must be a topological order.
	Layers []Layer

	// Output is the name of the layer producing the network output. Defaults to the last layer.
	Output string

	version atomic.Uint64
	busy    atomic.Bool
}

// Node is a leaf of the network: a layer that is not a residual block, with its inputs resolved to paths.
// Internal layers of residual blocks (including the activations and the addition) are nodes too.
type Node struct {
	Path   string
	Layer  Layer
	Inputs []string

	// Block is the name of the residual block containing the node, or empty.
	Block string
}

// New creates a Network from the given layers.
//
// Layers with no inputs are fed by the previous layer (or by the network input, for the first one).
// It returns an error if names are repeated, if an input refers to an unknown or later layer, or if any
// layer fails its own validation of the wiring.
func New(name string, inputChannels int, layers ...Layer) (*Network, error) {
	if inputChannels <= 0 {
		return nil, errors.Errorf("network %q: invalid number of input channels %d", name, inputChannels)
	}
	if len(layers) == 0 {
		return nil, errors.Errorf("network %q: no layers given", name)
	}
	net := &Network{Name: name, InputChannels: inputChannels, DType: dtypes.Float32, Layers: layers}
	known := map[string]bool{InputName: true}
	previous := InputName
	for ii, layer := range layers {
		layerName := layer.Name()
		if layerName == "" || strings.Contains(layerName, PathSeparator) {
			return nil, errors.Errorf("network %q: invalid name %q for layer #%d", name, layerName, ii)
		}
		if known[layerName] {
			return nil, errors.Errorf("network %q: duplicate layer name %q", name, layerName)
		}
		common := commonOf(layer)
		if len(common.From) == 0 {
			common.From = []string{previous}
		}
		for _, input := range common.From {
			if !known[input] {
				return nil, errors.Errorf("network %q: layer %q has input %q which is not defined before it",
					name, layerName, input)
			}
		}
		switch layer.(type) {
		case *Add, *Concat:
			if err := layer.Validate(); err != nil {
				return nil, errors.WithMessagef(err, "network %q", name)
			}
		default:
			if len(common.From) != 1 {
				return nil, errors.Errorf("network %q: layer %q (%s) takes exactly one input, got %v",
					name, layerName, layer.Kind(), common.From)
			}
		}
		known[layerName] = true
		previous = layerName
	}
	net.Output = previous
	return net, nil
}

// commonOf returns a pointer to the Common fields of a layer.
func commonOf(layer Layer) *Common {
	switch l := layer.(type) {
	case *Conv2D:
		return &l.Common
	case *Linear:
		return &l.Common
	case *BatchNorm:
		return &l.Common
	case *Activation:
		return &l.Common
	case *Pool:
		return &l.Common
	case *Flatten:
		return &l.Common
	case *Add:
		return &l.Common
	case *Concat:
		return &l.Common
	case *Residual:
		return &l.Common
	case *Opaque:
		return &l.Common
	}
	return nil
}

// Walk calls fn for every layer in definition order. Residual blocks are visited first as a whole (with
// their name as path), and then each of their parameterized sub-layers (with "<block>/<layer>" paths).
// It stops at the first error returned by fn.
func (n *Network) Walk(fn func(path string, layer Layer) error) error {
	for _, layer := range n.Layers {
		if err := fn(layer.Name(), layer); err != nil {
			return err
		}
		if r, ok := layer.(*Residual); ok {
			for _, sub := range r.SubLayers() {
				if err := fn(r.LayerName+PathSeparator+sub.Name(), sub); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Lookup returns the layer at the given path: a top-level layer name or "<block>/<layer>".
func (n *Network) Lookup(path string) (Layer, error) {
	blockName, subName, isSub := strings.Cut(path, PathSeparator)
	for _, layer := range n.Layers {
		if layer.Name() != blockName {
			continue
		}
		if !isSub {
			return layer, nil
		}
		r, ok := layer.(*Residual)
		if !ok {
			return nil, errors.Errorf("network %q: layer %q is a %s, not a residual block", n.Name, blockName, layer.Kind())
		}
		if sub := r.Lookup(subName); sub != nil {
			return sub, nil
		}
		return nil, errors.Errorf("network %q: residual block %q has no layer %q", n.Name, blockName, subName)
	}
	return nil, errors.Errorf("network %q: no layer %q", n.Name, path)
}

// Nodes returns the leaves of the network in topological order, with residual blocks expanded and all
// inputs resolved to leaf paths.
func (n *Network) Nodes() []Node {
	// outputOf maps a top-level layer name to the path of the leaf that produces its output.
	outputOf := map[string]string{InputName: InputName}
	resolve := func(names []string) []string {
		paths := make([]string, len(names))
		for ii, name := range names {
			paths[ii] = outputOf[name]
		}
		return paths
	}
	var nodes []Node
	for _, layer := range n.Layers {
		inputs := resolve(layer.Inputs())
		if r, ok := layer.(*Residual); ok {
			nodes = append(nodes, r.expand(inputs[0])...)
			outputOf[r.LayerName] = residualOutputPath(r.LayerName)
			continue
		}
		nodes = append(nodes, Node{Path: layer.Name(), Layer: layer, Inputs: inputs})
		outputOf[layer.Name()] = layer.Name()
	}
	return nodes
}

// OutputPath returns the path of the leaf producing the network output.
func (n *Network) OutputPath() string {
	output := n.Output
	if output == "" && len(n.Layers) > 0 {
		output = n.Layers[len(n.Layers)-1].Name()
	}
	for _, layer := range n.Layers {
		if layer.Name() == output && layer.Kind() == KindResidualBlock {
			return residualOutputPath(output)
		}
	}
	return output
}

// Validate checks that every layer holds tensors agreeing with its declared channel counts.
func (n *Network) Validate() error {
	return n.Walk(func(path string, layer Layer) error {
		if err := layer.Validate(); err != nil {
			return errors.WithMessagef(err, "network %q, layer %q", n.Name, path)
		}
		return nil
	})
}

// NumParameters returns the total number of weights (elements of all set tensors) of the network.
func (n *Network) NumParameters() (count int) {
	n.forEachTensor(func(t *tensors.Tensor) { count += t.Size() })
	return
}

// Memory returns the number of bytes used by all the weights of the network.
func (n *Network) Memory() (memory uintptr) {
	n.forEachTensor(func(t *tensors.Tensor) { memory += t.Memory() })
	return
}

func (n *Network) forEachTensor(fn func(t *tensors.Tensor)) {
	_ = n.Walk(func(_ string, layer Layer) error {
		for _, p := range layer.Params() {
			if *p.Value != nil {
				fn(*p.Value)
			}
		}
		return nil
	})
}

// ConvolutionRef is a convolution of the network with its path.
type ConvolutionRef struct {
	Path string
	Conv *Conv2D
}

// Convolutions returns all convolutions of the network, including those in residual blocks, in Walk order.
func (n *Network) Convolutions() (convs []ConvolutionRef) {
	_ = n.Walk(func(path string, layer Layer) error {
		if conv, ok := layer.(*Conv2D); ok {
			convs = append(convs, ConvolutionRef{Path: path, Conv: conv})
		}
		return nil
	})
	return
}

// Version is incremented every time the structure of the network is changed by a pruning plan.
// Plans are bound to the version they were computed on.
func (n *Network) Version() uint64 { return n.version.Load() }

// MarkModified increments the network version. It must be called by whoever owns the network
// (see TryAcquire) after changing its structure.
func (n *Network) MarkModified() { n.version.Add(1) }

// TryAcquire takes exclusive ownership of the network for mutation. It returns false if it is already owned.
// The owner must call Release when done.
func (n *Network) TryAcquire() bool { return n.busy.CompareAndSwap(false, true) }

// Release gives up the ownership taken with TryAcquire.
func (n *Network) Release() { n.busy.Store(false) }

// Clone returns a deep copy of the network, including all its tensors. The version is preserved.
func (n *Network) Clone() *Network {
	n2 := &Network{
		Name:          n.Name,
		InputChannels: n.InputChannels,
		DType:         n.DType,
		Output:        n.Output,
		Layers:        make([]Layer, len(n.Layers)),
	}
	for ii, layer := range n.Layers {
		n2.Layers[ii] = layer.cloneLayer()
	}
	n2.version.Store(n.Version())
	return n2
}
