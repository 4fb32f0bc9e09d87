// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package depgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/prunekit/prunekit/pkg/support/sets"
)

// Side of a layer's tensors affected by an Op.
type Side int

const (
	// OutputChannels removes slices of axis 0 of the weights (and of the bias or normalization
	// parameters): the layer produces fewer channels.
	OutputChannels Side = iota

	// InputChannels removes slices of axis 1 of the weights: the layer consumes fewer channels.
	InputChannels
)

// String implements fmt.Stringer.
func (s Side) String() string {
	switch s {
	case OutputChannels:
		return "out"
	case InputChannels:
		return "in"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Op is one tensor rewrite of a Plan.
type Op struct {
	// Layer path of a layer holding tensors: a convolution, a linear or a batch normalization layer.
	Layer string
	Side  Side

	// Indices (sorted) of the channels to remove, relative to the layer's current channels on that side.
	Indices []int
}

// Plan is the closure of a channel cut: every tensor rewrite needed to remove Indices from the output
// channels of Target while keeping the network consistent.
//
// A Plan is bound to the network (and its version) it was computed from, see Execute.
type Plan struct {
	Target  string
	Indices []int
	Ops     []Op

	// Affected lists every node whose output channels change, including the parameterless ones
	// (activations, pooling, additions), in topological order.
	Affected []string

	net     *network.Network
	version uint64
}

// String returns a short description of the plan, used in logs.
func (p *Plan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan(%s: -%d channels", p.Target, len(p.Indices))
	for _, op := range p.Ops {
		fmt.Fprintf(&sb, "; %s/%s -%d", op.Layer, op.Side, len(op.Indices))
	}
	sb.WriteString(")")
	return sb.String()
}

// NumRemoved returns the number of channels removed from the target.
func (p *Plan) NumRemoved() int { return len(p.Indices) }

// planner holds the state of the closure computation of one Plan call.
type planner struct {
	g      *Graph
	target string

	live     map[string]int
	removed  map[string]sets.Set[int] // Output channels removed per node.
	inputCut map[string]sets.Set[int] // Input channels removed per consuming convolution/linear.
	queue    []event
}

// event states that the output of the node at path loses the given channels.
type event struct {
	path    string
	indices []int
}

// Plan computes the closure of removing the output channels at indices from the layer at target,
// which must be a convolution or linear layer.
//
// It returns a *PlanRejectedError if the closure reaches the network input or output, an opaque layer,
// a flatten layer whose features can't be mapped back to whole channels, or if it would remove every
// channel of some layer. The network is never modified by Plan.
func (g *Graph) Plan(target string, indices []int) (*Plan, error) {
	node, found := g.Node(target)
	if !found {
		return nil, errors.Errorf("pruning target %q not found in the dependency graph of %q", target, g.net.Name)
	}
	switch node.Layer.Kind() {
	case network.KindConvolution, network.KindLinear:
	default:
		return nil, errors.Errorf("pruning target %q is a %s layer, only convolution or linear layers can be pruned",
			target, node.Layer.Kind())
	}
	if len(indices) == 0 {
		return nil, errors.Errorf("no channels selected to prune from %q", target)
	}
	p := &planner{
		g:        g,
		target:   target,
		live:     make(map[string]int),
		removed:  make(map[string]sets.Set[int]),
		inputCut: make(map[string]sets.Set[int]),
	}
	numChannels := p.liveChannels(target)
	for ii, idx := range indices {
		if idx < 0 || idx >= numChannels {
			return nil, errors.Errorf("channel %d out of range for %q with %d channels", idx, target, numChannels)
		}
		if ii > 0 && idx <= indices[ii-1] {
			return nil, errors.Errorf("channels to prune from %q must be sorted and unique, got %v", target, indices)
		}
	}

	p.queue = append(p.queue, event{path: target, indices: slices.Clone(indices)})
	for len(p.queue) > 0 {
		e := p.queue[0]
		p.queue = p.queue[1:]
		if err := p.process(e); err != nil {
			return nil, err
		}
	}
	return p.build(indices), nil
}

// process propagates an event: first to the producer side (the node itself and, for channel preserving
// layers, upstream), then to the consumers of the node.
func (p *planner) process(e event) error {
	delta := p.markRemoved(e)
	if len(delta) == 0 {
		return nil
	}
	if e.path == p.g.output {
		return p.reject(e.path, "it would change the number of outputs of the network")
	}
	if len(p.removed[e.path]) >= p.liveChannels(e.path) {
		return p.reject(e.path, "it would remove all its channels")
	}
	if err := p.producerSide(e.path, delta); err != nil {
		return err
	}
	return p.consumerSide(e.path, delta)
}

// markRemoved records the indices removed from the node's output and returns the ones not seen before.
func (p *planner) markRemoved(e event) []int {
	set := p.removed[e.path]
	if set == nil {
		set = sets.Make[int]()
		p.removed[e.path] = set
	}
	delta := set.Add(e.indices...)
	slices.Sort(delta)
	return delta
}

func (p *planner) push(path string, indices []int) {
	if len(indices) > 0 {
		p.queue = append(p.queue, event{path: path, indices: indices})
	}
}

func (p *planner) producerSide(path string, delta []int) error {
	if path == network.InputName {
		return p.reject(path, "it would change the number of input channels of the network")
	}
	node, _ := p.g.Node(path)
	switch l := node.Layer.(type) {
	case *network.Conv2D, *network.Linear:
		// The layer's own weights are sliced, nothing upstream changes.
	case *network.BatchNorm, *network.Activation, *network.Pool:
		p.push(node.Inputs[0], delta)
	case *network.Add:
		for _, input := range node.Inputs {
			p.push(input, delta)
		}
	case *network.Concat:
		offset := 0
		for _, input := range node.Inputs {
			numChannels := p.liveChannels(input)
			var sub []int
			for _, idx := range delta {
				if idx >= offset && idx < offset+numChannels {
					sub = append(sub, idx-offset)
				}
			}
			p.push(input, sub)
			offset += numChannels
		}
	case *network.Flatten:
		blockSize := p.g.spatialSize(node.Inputs[0])
		channels, ok := wholeBlocks(delta, blockSize)
		if !ok {
			return p.reject(path, fmt.Sprintf(
				"removed features don't map to whole channels of %q (%d features per channel)", node.Inputs[0], blockSize))
		}
		p.push(node.Inputs[0], channels)
	case *network.Opaque:
		return p.reject(path, fmt.Sprintf("opaque layer (%s) can't change its output channels", l.Description))
	default:
		return p.reject(path, "unsupported layer kind")
	}
	return nil
}

func (p *planner) consumerSide(path string, delta []int) error {
	for _, consumerPath := range p.g.consumers[path] {
		consumer, _ := p.g.Node(consumerPath)
		switch l := consumer.Layer.(type) {
		case *network.Conv2D, *network.Linear:
			set := p.inputCut[consumerPath]
			if set == nil {
				set = sets.Make[int]()
				p.inputCut[consumerPath] = set
			}
			set.Insert(delta...)
		case *network.BatchNorm, *network.Activation, *network.Pool, *network.Add:
			p.push(consumerPath, delta)
		case *network.Concat:
			offset := 0
			var shifted []int
			for _, input := range consumer.Inputs {
				if input == path {
					for _, idx := range delta {
						shifted = append(shifted, idx+offset)
					}
				}
				offset += p.liveChannels(input)
			}
			p.push(consumerPath, shifted)
		case *network.Flatten:
			blockSize := p.g.spatialSize(path)
			features := make([]int, 0, len(delta)*blockSize)
			for _, channel := range delta {
				for ii := range blockSize {
					features = append(features, channel*blockSize+ii)
				}
			}
			p.push(consumerPath, features)
		case *network.Opaque:
			return p.reject(consumerPath, fmt.Sprintf("opaque layer (%s) consumes the pruned channels", l.Description))
		default:
			return p.reject(consumerPath, "unsupported layer kind")
		}
	}
	return nil
}

// wholeBlocks maps feature indices back to channel indices, if they cover whole channel blocks.
func wholeBlocks(features []int, blockSize int) (channels []int, ok bool) {
	counts := make(map[int]int)
	for _, feature := range features {
		counts[feature/blockSize]++
	}
	for channel, count := range counts {
		if count != blockSize {
			return nil, false
		}
		channels = append(channels, channel)
	}
	slices.Sort(channels)
	return channels, true
}

// liveChannels returns the current number of output channels (or features) of the node, read from the
// layers' attributes, so it reflects plans executed after the graph was built.
func (p *planner) liveChannels(path string) int {
	if n, found := p.live[path]; found {
		return n
	}
	var n int
	if path == network.InputName {
		n = p.g.net.InputChannels
	} else {
		node, _ := p.g.Node(path)
		switch l := node.Layer.(type) {
		case *network.Conv2D:
			n = l.OutChannels
		case *network.Linear:
			n = l.OutFeatures
		case *network.BatchNorm:
			n = l.Channels
		case *network.Opaque:
			n = l.Channels
		case *network.Concat:
			for _, input := range node.Inputs {
				n += p.liveChannels(input)
			}
		case *network.Flatten:
			n = p.liveChannels(node.Inputs[0]) * p.g.spatialSize(node.Inputs[0])
		default:
			n = p.liveChannels(node.Inputs[0])
		}
	}
	p.live[path] = n
	return n
}

// spatialSize returns the number of elements per channel of the node's output.
func (g *Graph) spatialSize(path string) int {
	shape := g.shapes[path]
	if shape.Rank() <= 1 {
		return 1
	}
	return shape.Size() / shape.Dim(0)
}

func (p *planner) reject(path, reason string) error {
	kind := "input"
	if node, found := p.g.Node(path); found {
		kind = node.Layer.Kind().String()
	}
	return &PlanRejectedError{Target: p.target, Layer: path, Kind: kind, Reason: reason}
}

// build collects the Ops in topological order.
func (p *planner) build(indices []int) *Plan {
	plan := &Plan{
		Target:  p.target,
		Indices: slices.Clone(indices),
		net:     p.g.net,
		version: p.g.net.Version(),
	}
	for _, node := range p.g.nodes {
		if set := p.removed[node.Path]; len(set) > 0 {
			plan.Affected = append(plan.Affected, node.Path)
			switch node.Layer.Kind() {
			case network.KindConvolution, network.KindLinear, network.KindNormalization:
				plan.Ops = append(plan.Ops, Op{Layer: node.Path, Side: OutputChannels, Indices: sets.Sorted(set)})
			}
		}
		if set := p.inputCut[node.Path]; len(set) > 0 {
			plan.Ops = append(plan.Ops, Op{Layer: node.Path, Side: InputChannels, Indices: sets.Sorted(set)})
		}
	}
	return plan
}
