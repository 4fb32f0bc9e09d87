// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package depgraph builds the dependency graph of a network.Network and uses it to compute and apply
// structurally consistent channel pruning plans.
//
// Removing output channels of one convolution forces changes elsewhere: the consumers of those channels
// lose input channels, batch norms lose the matching statistics, and layers whose outputs are added
// together (residual connections) must lose the same channels. Graph.Plan computes that closure, and
// Execute applies it all-or-nothing.
//
// Example:
//
//	graph, err := depgraph.Build(backend, net, 224)
//	...
//	plan, err := graph.Plan("layer1.0/conv1", []int{3, 17, 42})
//	...
//	net, err = depgraph.Execute(backend, net, plan)
package depgraph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/backends/shapeinference"
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"k8s.io/klog/v2"
)

// Graph is the dependency graph of a network: its leaf layers (see network.Node), the producer and consumer
// edges between them, and the output shapes traced from a dummy input.
//
// The traced shapes are a snapshot taken by Build. Plans read live channel counts from the network, so a
// single Graph can be used for a sequence of plans, as long as the structure (the wiring) doesn't change.
type Graph struct {
	net       *network.Network
	inputSize int

	nodes     []network.Node
	index     map[string]int
	consumers map[string][]string
	shapes    map[string]shapes.Shape
	group     map[string]string // union-find parent.
	output    string
}

// Build traces a dummy `[InputChannels, inputSize, inputSize]` input through the network and records
// the producer/consumer edges between layers.
//
// It returns a *GraphConstructionError if the input size is too small for the network, if the declared
// channel counts of connected layers disagree, or if a layer holds tensors inconsistent with its attributes.
func Build(backend backends.Backend, net *network.Network, inputSize int) (*Graph, error) {
	if inputSize <= 0 {
		return nil, &GraphConstructionError{Layer: network.InputName, Cause: errors.Errorf("invalid input size %d", inputSize)}
	}
	if !backend.SupportsDType(net.DType) {
		return nil, &GraphConstructionError{Layer: network.InputName,
			Cause: errors.Errorf("backend %q doesn't support dtype %s", backend.Name(), net.DType)}
	}
	g := &Graph{
		net:       net,
		inputSize: inputSize,
		nodes:     net.Nodes(),
		index:     make(map[string]int),
		consumers: make(map[string][]string),
		shapes:    make(map[string]shapes.Shape),
		group:     make(map[string]string),
		output:    net.OutputPath(),
	}
	var current = network.InputName
	err := exceptions.TryCatch[error](func() {
		g.shapes[network.InputName] = shapes.Make(net.DType, net.InputChannels, inputSize, inputSize)
		g.group[network.InputName] = network.InputName
		for ii, node := range g.nodes {
			current = node.Path
			g.index[node.Path] = ii
			for _, input := range node.Inputs {
				if _, found := g.shapes[input]; !found {
					exceptions.Panicf("input %q is not defined before layer %q", input, node.Path)
				}
				if !slices.Contains(g.consumers[input], node.Path) {
					g.consumers[input] = append(g.consumers[input], node.Path)
				}
			}
			if err := node.Layer.Validate(); err != nil {
				panic(err)
			}
			g.shapes[node.Path] = g.traceNode(node)
			g.group[node.Path] = node.Path
			g.unionNode(node)
		}
	})
	if err != nil {
		return nil, &GraphConstructionError{Layer: current, Cause: err}
	}
	if _, found := g.index[g.output]; !found {
		return nil, &GraphConstructionError{Layer: g.output, Cause: errors.New("network output layer not found")}
	}
	klog.V(1).Infof("dependency graph of %q: %d nodes, output %s", net.Name, len(g.nodes), g.shapes[g.output])
	return g, nil
}

// traceNode returns the output shape of the node, panicking with the error otherwise.
func (g *Graph) traceNode(node network.Node) shapes.Shape {
	inputs := make([]shapes.Shape, len(node.Inputs))
	for ii, input := range node.Inputs {
		inputs[ii] = g.shapes[input]
	}
	dtype := g.net.DType
	var (
		output shapes.Shape
		err    error
	)
	switch l := node.Layer.(type) {
	case *network.Conv2D:
		kernel := shapes.Make(dtype, l.OutChannels, l.InChannels, l.KernelH, l.KernelW)
		output, err = shapeinference.ConvOp(inputs[0], kernel, l.Stride, l.Padding, l.Dilation)
	case *network.Linear:
		output, err = shapeinference.LinearOp(inputs[0], shapes.Make(dtype, l.OutFeatures, l.InFeatures))
	case *network.BatchNorm:
		output, err = shapeinference.NormalizationOp(inputs[0], l.Channels)
	case *network.Opaque:
		output, err = shapeinference.NormalizationOp(inputs[0], l.Channels)
	case *network.Activation:
		output, err = shapeinference.ElementwiseOp(inputs[0])
	case *network.Pool:
		switch l.Type {
		case network.PoolMax, network.PoolAvg:
			output, err = shapeinference.PoolOp(inputs[0], l.Window, l.Stride, l.Padding)
		case network.PoolGlobalAvg:
			output, err = shapeinference.GlobalPoolOp(inputs[0])
		case network.PoolUpsample:
			output, err = shapeinference.UpsampleOp(inputs[0], l.Factor)
		default:
			err = errors.Errorf("unknown pooling type %s", l.Type)
		}
	case *network.Flatten:
		output, err = shapeinference.FlattenOp(inputs[0])
	case *network.Add:
		output, err = shapeinference.ElementwiseOp(inputs...)
	case *network.Concat:
		output, err = shapeinference.ConcatenateOp(inputs, 0)
	default:
		err = errors.Errorf("layer kind %s can't be traced", node.Layer.Kind())
	}
	if err != nil {
		panic(err)
	}
	return output
}

// unionNode joins the channel group of the node with the groups of its inputs, for layers whose output
// channels are the same as their inputs'.
func (g *Graph) unionNode(node network.Node) {
	switch node.Layer.Kind() {
	case network.KindNormalization, network.KindActivation, network.KindPooling, network.KindAdd:
		for _, input := range node.Inputs {
			g.union(node.Path, input)
		}
	}
}

func (g *Graph) find(path string) string {
	for g.group[path] != path {
		g.group[path] = g.group[g.group[path]]
		path = g.group[path]
	}
	return path
}

func (g *Graph) union(a, b string) {
	rootA, rootB := g.find(a), g.find(b)
	if rootA == rootB {
		return
	}
	// Keep the earliest node as the root.
	if g.position(rootB) < g.position(rootA) {
		rootA, rootB = rootB, rootA
	}
	g.group[rootB] = rootA
}

// position in topological order; the network input comes first.
func (g *Graph) position(path string) int {
	if path == network.InputName {
		return -1
	}
	return g.index[path]
}

// Network returns the network the graph was built for.
func (g *Graph) Network() *network.Network { return g.net }

// Nodes returns the paths of all the nodes, in topological order.
func (g *Graph) Nodes() []string {
	paths := make([]string, len(g.nodes))
	for ii, node := range g.nodes {
		paths[ii] = node.Path
	}
	return paths
}

// Node returns the node at the given path.
func (g *Graph) Node(path string) (network.Node, bool) {
	ii, found := g.index[path]
	if !found {
		return network.Node{}, false
	}
	return g.nodes[ii], true
}

// Producers returns the paths of the nodes feeding the given node (network.InputName for the network input).
func (g *Graph) Producers(path string) []string {
	node, found := g.Node(path)
	if !found {
		return nil
	}
	return slices.Clone(node.Inputs)
}

// Consumers returns the paths of the nodes reading the output of the given node, in topological order.
func (g *Graph) Consumers(path string) []string {
	return slices.Clone(g.consumers[path])
}

// Group returns the paths of all nodes whose output channels are coupled with the output channels of path:
// removing a channel from one of them requires removing it from all. It is sorted in topological order.
func (g *Graph) Group(path string) []string {
	if _, found := g.group[path]; !found {
		return nil
	}
	root := g.find(path)
	var members []string
	if g.find(network.InputName) == root {
		members = append(members, network.InputName)
	}
	for _, node := range g.nodes {
		if g.find(node.Path) == root {
			members = append(members, node.Path)
		}
	}
	return members
}

// Shape returns the output shape of the node traced by Build. It is not updated when plans are executed.
func (g *Graph) Shape(path string) (shapes.Shape, bool) {
	shape, found := g.shapes[path]
	return shape, found
}

// CheckConsistency re-traces the network: it returns nil if every producer/consumer pair agrees on its
// number of channels and every layer's tensors agree with its attributes.
func CheckConsistency(backend backends.Backend, net *network.Network, inputSize int) error {
	_, err := Build(backend, net, inputSize)
	return err
}
