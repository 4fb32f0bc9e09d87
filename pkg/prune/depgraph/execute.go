// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package depgraph

import (
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/pkg/core/tensors"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"k8s.io/klog/v2"
)

// staging accumulates the new tensors and channel counts of a plan before they are committed.
// Several ops on the same layer compose: each one reads the values staged by the previous ones.
type staging struct {
	backend backends.Backend
	tensors map[**tensors.Tensor]*tensors.Tensor
	counts  map[*int]int
}

func (s *staging) tensor(slot **tensors.Tensor) *tensors.Tensor {
	if t, found := s.tensors[slot]; found {
		return t
	}
	return *slot
}

func (s *staging) count(field *int) int {
	if n, found := s.counts[field]; found {
		return n
	}
	return *field
}

// remove stages the removal of indices along axis of the tensor in slot.
func (s *staging) remove(slot **tensors.Tensor, axis int, indices []int) error {
	t := s.tensor(slot)
	if t == nil {
		return errors.New("tensor not set")
	}
	newT, err := s.backend.Remove(t, axis, indices)
	if err != nil {
		return err
	}
	s.tensors[slot] = newT
	return nil
}

// shrink stages the reduction of a channel count field.
func (s *staging) shrink(field *int, by int) {
	s.counts[field] = s.count(field) - by
}

func (s *staging) commit() {
	for slot, t := range s.tensors {
		*slot = t
	}
	for field, n := range s.counts {
		*field = n
	}
}

// Execute applies the plan to net, all-or-nothing: every new tensor is computed before any layer
// is changed, and if any step fails the network is left untouched.
//
// It returns ErrNetworkBusy if another Execute holds the network, and ErrStalePlan if the plan was computed
// for another network or for a previous version of it. On success it returns the same network, with its
// version incremented.
func Execute(backend backends.Backend, net *network.Network, plan *Plan) (*network.Network, error) {
	if plan == nil || plan.net != net {
		return nil, errors.WithMessage(ErrStalePlan, "plan was computed for a different network")
	}
	if !net.TryAcquire() {
		return nil, errors.WithMessagef(ErrNetworkBusy, "network %q", net.Name)
	}
	defer net.Release()
	if plan.version != net.Version() {
		return nil, errors.WithMessagef(ErrStalePlan, "plan for %q computed on version %d, network %q is at version %d",
			plan.Target, plan.version, net.Name, net.Version())
	}

	s := &staging{
		backend: backend,
		tensors: make(map[**tensors.Tensor]*tensors.Tensor),
		counts:  make(map[*int]int),
	}
	for _, op := range plan.Ops {
		if err := stageOp(s, net, op); err != nil {
			return nil, errors.WithMessagef(err, "executing %s, op %s/%s", plan, op.Layer, op.Side)
		}
	}
	s.commit()
	net.MarkModified()
	if klog.V(1).Enabled() {
		klog.Infof("executed %s: network %q at version %d", plan, net.Name, net.Version())
	}
	return net, nil
}

func stageOp(s *staging, net *network.Network, op Op) error {
	layer, err := net.Lookup(op.Layer)
	if err != nil {
		return err
	}
	n := len(op.Indices)
	switch l := layer.(type) {
	case *network.Conv2D:
		if op.Side == OutputChannels {
			if err := s.remove(&l.Weights, 0, op.Indices); err != nil {
				return err
			}
			if l.UseBias {
				if err := s.remove(&l.Bias, 0, op.Indices); err != nil {
					return err
				}
			}
			s.shrink(&l.OutChannels, n)
			return nil
		}
		if err := s.remove(&l.Weights, 1, op.Indices); err != nil {
			return err
		}
		s.shrink(&l.InChannels, n)

	case *network.Linear:
		if op.Side == OutputChannels {
			if err := s.remove(&l.Weights, 0, op.Indices); err != nil {
				return err
			}
			if l.UseBias {
				if err := s.remove(&l.Bias, 0, op.Indices); err != nil {
					return err
				}
			}
			s.shrink(&l.OutFeatures, n)
			return nil
		}
		if err := s.remove(&l.Weights, 1, op.Indices); err != nil {
			return err
		}
		s.shrink(&l.InFeatures, n)

	case *network.BatchNorm:
		if op.Side != OutputChannels {
			return errors.Errorf("batch normalization %q has no input side", op.Layer)
		}
		for _, p := range l.Params() {
			if err := s.remove(p.Value, 0, op.Indices); err != nil {
				return errors.WithMessagef(err, "parameter %s", p.Name)
			}
		}
		s.shrink(&l.Channels, n)

	default:
		return errors.Errorf("layer %q of kind %s holds no prunable tensors", op.Layer, layer.Kind())
	}
	return nil
}
