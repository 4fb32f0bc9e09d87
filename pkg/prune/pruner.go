// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package prune implements the block-aware structured pruning traversal of a network.Network.
//
// The traversal walks the layers in definition order. Residual blocks have both of their convolutions
// pruned by the amount at the current position of a Schedule; the position advances after every block.
// Standalone convolutions are pruned, or left intact, according to the Architecture.
//
// Every cut is computed and applied with package depgraph, so the network remains consistent after
// each one.
//
// Example:
//
//	pruner, err := prune.Build(backend).Schedule(prune.Schedule{0.1, 0.2, 0.3}).Done()
//	...
//	result, err := pruner.Traverse(net, 224)
package prune

import (
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/prunekit/prunekit/pkg/prune/depgraph"
	"github.com/prunekit/prunekit/pkg/prune/strategy"
	"k8s.io/klog/v2"
)

// DefaultAmount is the fraction of channels removed from standalone convolutions.
const DefaultAmount = 0.2

// DefaultProtectTail is the number of convolutions before the first linear layer left intact by the
// TailProtected architecture.
const DefaultProtectTail = 1

// Config for a Pruner, created with Build. Errors are reported by Done.
type Config struct {
	backend backends.Backend
	err     error

	schedule      Schedule
	defaultAmount float64
	architecture  Architecture
	protectTail   int
	strategy      strategy.Strategy
	skipRejected  bool
	onRecord      func(Record)
}

// Build a Pruner configuration for the given backend, used for ranking channels and slicing tensors.
// Call the configuration methods and finally Done.
func Build(backend backends.Backend) *Config {
	c := &Config{
		backend:       backend,
		schedule:      DefaultSchedule,
		defaultAmount: DefaultAmount,
		protectTail:   DefaultProtectTail,
		strategy:      strategy.L1,
	}
	if backend == nil {
		c.setError(errors.New("prune.Build() requires a backend"))
	}
	return c
}

// setError keeps the first error.
func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Schedule sets the amounts used for residual blocks. Default is DefaultSchedule.
func (c *Config) Schedule(schedule Schedule) *Config {
	if err := schedule.Validate(); err != nil {
		c.setError(err)
		return c
	}
	c.schedule = schedule
	return c
}

// DefaultAmount sets the amount used for standalone convolutions. Default is DefaultAmount (0.2).
func (c *Config) DefaultAmount(amount float64) *Config {
	if !(amount >= 0 && amount < 1) {
		c.setError(errors.Errorf("default pruning amount must be in the range [0, 1), got %g", amount))
		return c
	}
	c.defaultAmount = amount
	return c
}

// Architecture sets how standalone convolutions are treated. The default, AutoArchitecture, detects it
// from the network name with ArchitectureFromName.
func (c *Config) Architecture(architecture Architecture) *Config {
	c.architecture = architecture
	return c
}

// ProtectTail sets how many convolutions before the first linear layer are left intact by the
// TailProtected architecture. Default is 1.
func (c *Config) ProtectTail(n int) *Config {
	if n < 0 {
		c.setError(errors.Errorf("ProtectTail(%d) must be non-negative", n))
		return c
	}
	c.protectTail = n
	return c
}

// Strategy sets how channels are ranked. Default is strategy.L1.
func (c *Config) Strategy(s strategy.Strategy) *Config {
	if s == nil {
		c.setError(errors.New("nil pruning strategy"))
		return c
	}
	c.strategy = s
	return c
}

// SkipRejected sets whether a rejected plan (see depgraph.PlanRejectedError) is logged and skipped,
// leaving that layer intact. By default a rejected plan aborts the traversal.
func (c *Config) SkipRejected(skip bool) *Config {
	c.skipRejected = skip
	return c
}

// OnRecord sets a function called after each convolution is visited, e.g. to report progress.
func (c *Config) OnRecord(fn func(Record)) *Config {
	c.onRecord = fn
	return c
}

// Done returns the configured Pruner, or the first configuration error.
func (c *Config) Done() (*Pruner, error) {
	if c.err != nil {
		return nil, c.err
	}
	config := *c
	return &Pruner{config: &config}, nil
}

// MustDone is like Done but panics on error.
func (c *Config) MustDone() *Pruner {
	p, err := c.Done()
	if err != nil {
		panic(errors.Wrap(err, "failed to configure prune.Pruner"))
	}
	return p
}

// Pruner runs the block-aware pruning traversal. Create it with Build.
type Pruner struct {
	config *Config
}

// Backend used by the pruner.
func (p *Pruner) Backend() backends.Backend { return p.config.backend }

// Record describes what happened to one convolution visited by the traversal.
type Record struct {
	// Layer path of the convolution, e.g. "layer1.0/conv2".
	Layer string

	// Block is the number of the residual block among the blocks visited, or -1 for standalone
	// convolutions. ScheduleIndex is the position in the Schedule used for the block, or -1.
	Block, ScheduleIndex int

	// Amount requested for the convolution.
	Amount float64

	// Before and After are the number of output channels of the convolution.
	Before, After int

	// Removed holds the indices of the removed channels, relative to the channels before the cut.
	Removed []int

	// NumOps is the number of tensor rewrites of the executed plan.
	NumOps int

	// Skipped is set with the reason a convolution was not considered for pruning.
	Skipped string

	// Rejected is set if the plan was rejected and SkipRejected(true) was configured.
	Rejected error
}

// Pruned returns whether channels were removed from the convolution.
func (r Record) Pruned() bool {
	return r.Rejected == nil && len(r.Removed) > 0
}

// Result of a traversal.
type Result struct {
	// Network pruned. Prune sets it to the network reloaded from the checkpoint.
	Network *network.Network

	// Records of every convolution visited, in traversal order.
	Records []Record

	// ParamsBefore and ParamsAfter are the number of weights of the network.
	ParamsBefore, ParamsAfter int

	// Path of the saved checkpoint, set by Prune.
	Path string
}

// CountRecords returns the number of records Traverse generates for net: one per standalone convolution
// and two per residual block.
func CountRecords(net *network.Network) int {
	var count int
	for _, layer := range net.Layers {
		switch layer.Kind() {
		case network.KindConvolution:
			count++
		case network.KindResidualBlock:
			count += 2
		}
	}
	return count
}

// traversal holds the state of one Traverse call.
type traversal struct {
	*Config
	net          *network.Network
	graph        *depgraph.Graph
	architecture Architecture
	result       *Result

	cursor     *cursor
	numBlocks  int
	tailRemain int
}

// Traverse prunes net in place and returns the records of every visited convolution.
//
// inputSize is the height and width of the dummy input used to trace the network. It returns
// a *depgraph.GraphConstructionError if the network can't be traced, and a *depgraph.PlanRejectedError
// if a plan is rejected and SkipRejected(true) wasn't configured. In that case the network holds all
// the cuts made before the rejected one.
func (p *Pruner) Traverse(net *network.Network, inputSize int) (*Result, error) {
	graph, err := depgraph.Build(p.config.backend, net, inputSize)
	if err != nil {
		return nil, err
	}
	t := &traversal{
		Config:       p.config,
		net:          net,
		graph:        graph,
		architecture: p.config.architecture,
		result:       &Result{Network: net, ParamsBefore: net.NumParameters()},
		cursor:       newCursor(p.config.schedule),
		tailRemain:   convsBeforeLinear(net),
	}
	if t.architecture == AutoArchitecture {
		t.architecture = ArchitectureFromName(net.Name)
	}
	klog.V(1).Infof("pruning %q (%s architecture, schedule %s, strategy %s)",
		net.Name, t.architecture, t.schedule, t.strategy.Name())

	for _, layer := range net.Layers {
		switch l := layer.(type) {
		case *network.Conv2D:
			err = t.standalone(l)
		case *network.Residual:
			err = t.block(l)
		}
		if err != nil {
			return nil, err
		}
	}
	t.result.ParamsAfter = net.NumParameters()
	return t.result, nil
}

// standalone handles a convolution outside residual blocks.
func (t *traversal) standalone(conv *network.Conv2D) error {
	path := conv.Name()
	switch {
	case path == t.net.OutputPath():
		return t.skip(path, conv, "network output")
	case t.architecture == ResNet:
		return t.skip(path, conv, "resnet stem")
	case t.architecture == TailProtected:
		if t.tailRemain <= t.protectTail {
			return t.skip(path, conv, "protected tail")
		}
		t.tailRemain--
	}
	return t.pruneConv(path, conv, t.defaultAmount, -1, -1)
}

// block prunes both convolutions of a residual block by the amount at the current schedule position.
func (t *traversal) block(r *network.Residual) error {
	scheduleIndex := t.cursor.position
	amount := t.schedule.At(scheduleIndex)
	for _, sub := range []struct {
		name string
		conv *network.Conv2D
	}{{network.ResidualConv1, r.Conv1}, {network.ResidualConv2, r.Conv2}} {
		path := r.LayerName + network.PathSeparator + sub.name
		if err := t.pruneConv(path, sub.conv, amount, t.numBlocks, scheduleIndex); err != nil {
			return err
		}
	}
	t.numBlocks++
	t.cursor.advance()
	return nil
}

func (t *traversal) skip(path string, conv *network.Conv2D, reason string) error {
	t.emit(Record{
		Layer:         path,
		Block:         -1,
		ScheduleIndex: -1,
		Before:        conv.OutChannels,
		After:         conv.OutChannels,
		Skipped:       reason,
	})
	return nil
}

func (t *traversal) pruneConv(path string, conv *network.Conv2D, amount float64, block, scheduleIndex int) error {
	record := Record{
		Layer:         path,
		Block:         block,
		ScheduleIndex: scheduleIndex,
		Amount:        amount,
		Before:        conv.OutChannels,
		After:         conv.OutChannels,
	}
	indices, err := t.strategy.Select(t.backend, conv.Weights, amount)
	if err != nil {
		return errors.WithMessagef(err, "ranking channels of %q", path)
	}
	if len(indices) == 0 {
		t.emit(record)
		return nil
	}

	plan, err := t.graph.Plan(path, indices)
	if err != nil {
		var rejected *depgraph.PlanRejectedError
		if !errors.As(err, &rejected) || !t.skipRejected {
			return err
		}
		klog.Warningf("skipping %q: %v", path, err)
		record.Rejected = err
		t.emit(record)
		return nil
	}
	if _, err = depgraph.Execute(t.backend, t.net, plan); err != nil {
		return err
	}
	record.Removed = indices
	record.NumOps = len(plan.Ops)
	record.After = conv.OutChannels
	t.emit(record)
	return nil
}

func (t *traversal) emit(record Record) {
	if klog.V(1).Enabled() {
		klog.Infof("%s: block=%d schedule=%d amount=%g channels %d -> %d %s",
			record.Layer, record.Block, record.ScheduleIndex, record.Amount, record.Before, record.After, record.Skipped)
	}
	t.result.Records = append(t.result.Records, record)
	if t.onRecord != nil {
		t.onRecord(record)
	}
}
