// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/prunekit/prunekit/pkg/ml/network/checkpoints"
	"k8s.io/klog/v2"
)

const (
	// DefaultSuffix appended to the model name of the pruned checkpoint.
	DefaultSuffix = "_pruned"

	// DefaultInputSize is the height and width of the dummy input used to trace the network.
	DefaultInputSize = 224
)

// Request for Prune.
type Request struct {
	// Name of the model, used for the checkpoint file name.
	Name string

	// Model to prune. It is modified in place.
	Model *network.Network

	// OutputDir where the pruned checkpoint is saved. It is created if needed.
	OutputDir string

	// Suffix appended to Name for the checkpoint file name. If empty, DefaultSuffix is used.
	Suffix string

	// InputSize of the dummy input used to trace the network. If 0, DefaultInputSize is used.
	InputSize int

	// Pruner to use. If nil, one with the default configuration is created.
	Pruner *Pruner

	// SaveOptions passed to checkpoints.Save.
	SaveOptions []checkpoints.Option
}

// Prune runs the traversal over the requested model, saves it to
// checkpoints.Filename(OutputDir, Name, Suffix), and reloads it.
//
// The returned Result.Network is the reloaded network, verified to be identical to the pruned
// one (same layers, channel counts and bit-exact weights).
func Prune(backend backends.Backend, req Request) (*Result, error) {
	if req.Name == "" {
		return nil, errors.New("prune.Prune() requires a model name")
	}
	if req.Model == nil {
		return nil, errors.Errorf("prune.Prune(%q) requires a model", req.Name)
	}
	if req.Suffix == "" {
		req.Suffix = DefaultSuffix
	}
	if req.InputSize == 0 {
		req.InputSize = DefaultInputSize
	}
	if req.InputSize < 0 {
		return nil, errors.Errorf("invalid input size %d", req.InputSize)
	}
	pruner := req.Pruner
	if pruner == nil {
		var err error
		pruner, err = Build(backend).Done()
		if err != nil {
			return nil, err
		}
	}

	result, err := pruner.Traverse(req.Model, req.InputSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "pruning %q", req.Name)
	}
	path := checkpoints.Filename(req.OutputDir, req.Name, req.Suffix)
	if err = checkpoints.Save(path, result.Network, req.SaveOptions...); err != nil {
		return nil, err
	}
	reloaded, err := checkpoints.Load(path)
	if err != nil {
		return nil, err
	}
	if err = Compare(result.Network, reloaded); err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q doesn't match the pruned network", path)
	}
	klog.Infof("pruned %q: %d -> %d parameters, saved to %s", req.Name, result.ParamsBefore, result.ParamsAfter, path)
	result.Network = reloaded
	result.Path = path
	return result, nil
}

// Compare returns an error describing the first difference between the two networks: their name and
// output, their layers (paths, kinds and attributes), their wiring, or their tensors (shapes and bit-exact
// values).
func Compare(a, b *network.Network) error {
	if a.Name != b.Name || a.Output != b.Output {
		return errors.Errorf("name/output differ: %q/%q vs %q/%q", a.Name, a.Output, b.Name, b.Output)
	}
	if a.InputChannels != b.InputChannels || a.DType != b.DType {
		return errors.Errorf("input channels/dtype differ: %d/%s vs %d/%s", a.InputChannels, a.DType, b.InputChannels, b.DType)
	}
	if len(a.Layers) != len(b.Layers) {
		return errors.Errorf("number of top-level layers differ: %d vs %d", len(a.Layers), len(b.Layers))
	}
	for ii, layerA := range a.Layers {
		attrsA, err := checkpoints.LayerAttributes(layerA)
		if err != nil {
			return err
		}
		attrsB, err := checkpoints.LayerAttributes(b.Layers[ii])
		if err != nil {
			return err
		}
		if attrsA != attrsB {
			return errors.Errorf("layer %q: attributes differ: %s vs %s", layerA.Name(), attrsA, attrsB)
		}
	}
	nodesA, nodesB := a.Nodes(), b.Nodes()
	if len(nodesA) != len(nodesB) {
		return errors.Errorf("number of layers differ: %d vs %d", len(nodesA), len(nodesB))
	}
	for ii, nodeA := range nodesA {
		nodeB := nodesB[ii]
		if nodeA.Path != nodeB.Path || nodeA.Layer.Kind() != nodeB.Layer.Kind() {
			return errors.Errorf("layer #%d differs: %s %q vs %s %q",
				ii, nodeA.Layer.Kind(), nodeA.Path, nodeB.Layer.Kind(), nodeB.Path)
		}
		if len(nodeA.Inputs) != len(nodeB.Inputs) {
			return errors.Errorf("layer %q: inputs differ: %v vs %v", nodeA.Path, nodeA.Inputs, nodeB.Inputs)
		}
		for jj := range nodeA.Inputs {
			if nodeA.Inputs[jj] != nodeB.Inputs[jj] {
				return errors.Errorf("layer %q: inputs differ: %v vs %v", nodeA.Path, nodeA.Inputs, nodeB.Inputs)
			}
		}
		paramsA, paramsB := nodeA.Layer.Params(), nodeB.Layer.Params()
		if len(paramsA) != len(paramsB) {
			return errors.Errorf("layer %q: number of parameters differ: %d vs %d", nodeA.Path, len(paramsA), len(paramsB))
		}
		for jj, paramA := range paramsA {
			tA, tB := *paramA.Value, *paramsB[jj].Value
			if (tA == nil) != (tB == nil) {
				return errors.Errorf("layer %q: parameter %s set in only one of the networks", nodeA.Path, paramA.Name)
			}
			if tA != nil && !tA.Equal(tB) {
				return errors.Errorf("layer %q: parameter %s differs: %s vs %s", nodeA.Path, paramA.Name, tA.Shape(), tB.Shape())
			}
		}
	}
	return nil
}
