// Package backends defines the interface to the numeric kernels the pruner needs: ranking channels by their
// norm and slicing channels out of weight tensors.
//
// Backends are registered by name, and selected with New (which reads the PRUNEKIT_BACKEND environment
// variable) or NewWithConfig. The pure Go "cpu" backend is in the subpackage cpu: import it with
//
//	import _ "github.com/prunekit/prunekit/backends/cpu"
//
// To simplify error handling in the callers, NewWithConfig panics with a stack trace (see package
// github.com/gomlx/exceptions) if the configuration is invalid. The kernels themselves return errors.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/tensors"
)

// Backend is the API that needs to be implemented by a prunekit backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "cpu".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// SupportsDType returns whether the backend kernels handle tensors of the given dtype.
	SupportsDType(dtype dtypes.DType) bool

	// ChannelNorms returns the L-p norm (p is 1 or 2) of every slice of t along axis 0.
	// For a convolution kernel shaped [out, in, kh, kw] that is one value per output channel.
	ChannelNorms(t *tensors.Tensor, p int) ([]float64, error)

	// Remove returns a new tensor with the slices at the given indices of axis removed.
	// indices must be sorted, unique and in range, and must not cover the whole axis.
	// t itself is not modified.
	Remove(t *tensors.Tensor, axis int, indices []int) (*tensors.Tensor, error)
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// PRUNEKIT_BACKEND is the environment variable with the default backend configuration to use.
// The format of config is "<backend_name>:<backend_configuration>".
const PRUNEKIT_BACKEND = "PRUNEKIT_BACKEND"

// New returns a new default Backend.
// The default is:
// 1. The environment PRUNEKIT_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(PRUNEKIT_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "cpu") and
// "<backend_configuration>" is backend specific. A config without ":" is taken as the backend name.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for prunekit -- maybe import the default one with import _ "github.com/prunekit/prunekit/backends/cpu"?`)
	}
	backendName := firstRegistered
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given, registered backends: %v",
			backendName, config, List())
	}
	return constructor(backendConfig)
}
