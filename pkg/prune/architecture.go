// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/ml/network"
)

// Architecture selects how standalone convolutions (those outside residual blocks) are treated.
// Convolutions inside residual blocks always follow the Schedule.
type Architecture int

const (
	// AutoArchitecture selects the architecture from the network name, see ArchitectureFromName.
	AutoArchitecture Architecture = iota

	// Generic prunes every standalone convolution by the default amount.
	Generic

	// ResNet leaves standalone convolutions (the stem) untouched.
	ResNet

	// TailProtected prunes standalone convolutions in order while more than ProtectTail of the
	// convolutions preceding the first linear layer remain unpruned: the last ones before the
	// classifier are kept intact.
	TailProtected
)

// String implements fmt.Stringer.
func (a Architecture) String() string {
	switch a {
	case AutoArchitecture:
		return "auto"
	case Generic:
		return "generic"
	case ResNet:
		return "resnet"
	case TailProtected:
		return "tail"
	}
	return "unknown"
}

// ParseArchitecture parses the names returned by Architecture.String.
func ParseArchitecture(name string) (Architecture, error) {
	for _, a := range []Architecture{AutoArchitecture, Generic, ResNet, TailProtected} {
		if strings.EqualFold(name, a.String()) {
			return a, nil
		}
	}
	return AutoArchitecture, errors.Errorf("unknown architecture %q, valid values are auto, generic, resnet or tail", name)
}

// ArchitectureFromName detects the architecture from the model name: names containing "resnet" are
// ResNet, names containing "naber" are TailProtected, and everything else is Generic.
func ArchitectureFromName(name string) Architecture {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "resnet"):
		return ResNet
	case strings.Contains(lower, "naber"):
		return TailProtected
	}
	return Generic
}

// convsBeforeLinear counts the standalone convolutions defined before the first linear layer (all of
// them if there is no linear layer).
func convsBeforeLinear(net *network.Network) int {
	var count int
	for _, layer := range net.Layers {
		switch layer.Kind() {
		case network.KindLinear:
			return count
		case network.KindConvolution:
			count++
		}
	}
	return count
}
