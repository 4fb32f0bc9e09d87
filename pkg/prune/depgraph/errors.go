// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package depgraph

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNetworkBusy is returned by Execute if another plan is being applied to the same network.
	ErrNetworkBusy = errors.New("network is owned by another pruning plan execution")

	// ErrStalePlan is returned by Execute if the network changed since the plan was computed,
	// or if the plan was computed for a different network.
	ErrStalePlan = errors.New("pruning plan is stale")
)

// GraphConstructionError is returned by Build when the shapes can't be traced through the network, or when
// the declared channel counts of producers and consumers disagree. No partial graph is usable.
type GraphConstructionError struct {
	// Layer path where the trace failed.
	Layer string
	Cause error
}

// Error implements error.
func (e *GraphConstructionError) Error() string {
	return fmt.Sprintf("dependency graph construction failed at layer %q: %v", e.Layer, e.Cause)
}

// Unwrap returns the cause.
func (e *GraphConstructionError) Unwrap() error { return e.Cause }

// PlanRejectedError is returned when the dependency closure of a channel cut reaches a layer the pruner
// can't handle. The network is left unchanged.
type PlanRejectedError struct {
	// Target is the layer whose output channels were to be pruned.
	Target string

	// Layer is the path of the layer that caused the rejection, and Kind its kind.
	Layer, Kind string

	Reason string
}

// Error implements error.
func (e *PlanRejectedError) Error() string {
	return fmt.Sprintf("pruning plan for %q rejected at %s layer %q: %s", e.Target, e.Kind, e.Layer, e.Reason)
}
