// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/ml/network"
)

// serializedLayer holds the attributes of any layer variant. Only the fields of its Kind are set.
type serializedLayer struct {
	Kind string
	Name string
	From []string `json:",omitempty"`

	InChannels  int  `json:",omitempty"`
	OutChannels int  `json:",omitempty"`
	KernelH     int  `json:",omitempty"`
	KernelW     int  `json:",omitempty"`
	Stride      int  `json:",omitempty"`
	Padding     int  `json:",omitempty"`
	Dilation    int  `json:",omitempty"`
	UseBias     bool `json:",omitempty"`

	InFeatures  int `json:",omitempty"`
	OutFeatures int `json:",omitempty"`

	Channels int     `json:",omitempty"`
	Epsilon  float64 `json:",omitempty"`

	Function    string `json:",omitempty"`
	PoolType    string `json:",omitempty"`
	Window      int    `json:",omitempty"`
	Factor      int    `json:",omitempty"`
	Description string `json:",omitempty"`

	// SubLayers of a residual block.
	SubLayers []serializedLayer `json:",omitempty"`
}

// LayerAttributes returns the attributes of layer saved in a checkpoint, everything but its tensors,
// as JSON text. Two layers restore to the same configuration if their attributes are equal.
func LayerAttributes(layer network.Layer) (string, error) {
	s, err := serializeLayer(layer)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrapf(err, "layer %q", layer.Name())
	}
	return string(data), nil
}

func serializeLayer(layer network.Layer) (serializedLayer, error) {
	s := serializedLayer{Kind: layer.Kind().String(), Name: layer.Name(), From: layer.Inputs()}
	switch l := layer.(type) {
	case *network.Conv2D:
		s.InChannels, s.OutChannels = l.InChannels, l.OutChannels
		s.KernelH, s.KernelW = l.KernelH, l.KernelW
		s.Stride, s.Padding, s.Dilation = l.Stride, l.Padding, l.Dilation
		s.UseBias = l.UseBias
	case *network.Linear:
		s.InFeatures, s.OutFeatures = l.InFeatures, l.OutFeatures
		s.UseBias = l.UseBias
	case *network.BatchNorm:
		s.Channels, s.Epsilon = l.Channels, l.Epsilon
	case *network.Activation:
		s.Function = l.Function
	case *network.Pool:
		s.PoolType = l.Type.String()
		s.Window, s.Stride, s.Padding, s.Factor = l.Window, l.Stride, l.Padding, l.Factor
	case *network.Flatten, *network.Add, *network.Concat:
		// No attributes.
	case *network.Opaque:
		s.Channels, s.Description = l.Channels, l.Description
	case *network.Residual:
		for _, sub := range l.SubLayers() {
			serializedSub, err := serializeLayer(sub)
			if err != nil {
				return s, err
			}
			serializedSub.From = nil
			s.SubLayers = append(s.SubLayers, serializedSub)
		}
	default:
		return s, errors.Errorf("layer %q: unknown layer type %T", layer.Name(), layer)
	}
	return s, nil
}

func deserializeLayer(s serializedLayer) (network.Layer, error) {
	kind, err := network.KindString(s.Kind)
	if err != nil {
		return nil, errors.Wrapf(err, "layer %q", s.Name)
	}
	switch kind {
	case network.KindConvolution:
		conv := network.NewConv2D(s.Name, s.InChannels, s.OutChannels, s.KernelH, s.From...)
		conv.KernelW = s.KernelW
		conv.Stride, conv.Padding, conv.Dilation = s.Stride, s.Padding, s.Dilation
		conv.UseBias = s.UseBias
		return conv, nil
	case network.KindLinear:
		linear := network.NewLinear(s.Name, s.InFeatures, s.OutFeatures, s.From...)
		linear.UseBias = s.UseBias
		return linear, nil
	case network.KindNormalization:
		bn := network.NewBatchNorm(s.Name, s.Channels, s.From...)
		bn.Epsilon = s.Epsilon
		return bn, nil
	case network.KindActivation:
		return network.NewActivation(s.Name, s.Function, s.From...), nil
	case network.KindPooling:
		poolType, err := network.PoolTypeString(s.PoolType)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %q", s.Name)
		}
		return &network.Pool{
			Common:  network.Common{LayerName: s.Name, From: s.From},
			Type:    poolType,
			Window:  s.Window,
			Stride:  s.Stride,
			Padding: s.Padding,
			Factor:  s.Factor,
		}, nil
	case network.KindFlatten:
		return network.NewFlatten(s.Name, s.From...), nil
	case network.KindAdd:
		return network.NewAdd(s.Name, s.From...), nil
	case network.KindConcat:
		return network.NewConcat(s.Name, s.From...), nil
	case network.KindOpaque:
		return network.NewOpaque(s.Name, s.Channels, s.Description, s.From...), nil
	case network.KindResidualBlock:
		return deserializeResidual(s)
	}
	return nil, errors.Errorf("layer %q: kind %s can't be deserialized", s.Name, kind)
}

func deserializeResidual(s serializedLayer) (*network.Residual, error) {
	r := &network.Residual{Common: network.Common{LayerName: s.Name, From: s.From}}
	for _, serializedSub := range s.SubLayers {
		sub, err := deserializeLayer(serializedSub)
		if err != nil {
			return nil, errors.WithMessagef(err, "residual block %q", s.Name)
		}
		conv, isConv := sub.(*network.Conv2D)
		bn, isBN := sub.(*network.BatchNorm)
		switch {
		case isConv && sub.Name() == network.ResidualConv1:
			r.Conv1 = conv
		case isConv && sub.Name() == network.ResidualConv2:
			r.Conv2 = conv
		case isConv && sub.Name() == network.ResidualDownsample:
			r.Downsample = conv
		case isBN && sub.Name() == network.ResidualBN1:
			r.BN1 = bn
		case isBN && sub.Name() == network.ResidualBN2:
			r.BN2 = bn
		case isBN && sub.Name() == network.ResidualDownsampleBN:
			r.DownsampleBN = bn
		default:
			return nil, errors.Errorf("residual block %q: unexpected sub-layer %q (%s)", s.Name, sub.Name(), sub.Kind())
		}
	}
	return r, nil
}
