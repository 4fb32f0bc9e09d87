// Package cpu implements a simple and portable pure Go backend for prunekit.
//
// Kernels are generic over the float types. Float16 norms are accumulated in float64 after conversion.
//
// Channel norms of large tensors are computed in parallel, one chunk of channels per worker. The
// configuration "parallelism=N" sets the number of workers: 0 disables parallelism and -1 makes it unlimited.
// The default is runtime.NumCPU(). E.g.: PRUNEKIT_BACKEND="cpu:parallelism=4".
package cpu

import (
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/prunekit/prunekit/backends"
	"github.com/prunekit/prunekit/internal/workerspool"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
)

// BackendName to be used in PRUNEKIT_BACKEND to specify this backend.
const BackendName = "cpu"

// Registers New() as the constructor for the "cpu" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new cpu Backend.
//
// config is a comma-separated list of options, currently only "parallelism=N" is accepted.
// It panics if the configuration is invalid.
func New(config string) backends.Backend {
	b := &Backend{workers: workerspool.New()}
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "parallelism":
			parallelism, err := strconv.Atoi(value)
			if err != nil {
				exceptions.Panicf("cpu backend: invalid parallelism %q in configuration %q", value, config)
			}
			b.workers.SetMaxParallelism(parallelism)
		default:
			exceptions.Panicf("cpu backend: unknown option %q in configuration %q", key, config)
		}
	}
	return b
}

// Backend implements the backends.Backend interface.
type Backend struct {
	workers *workerspool.Pool
}

// Compile-time check that cpu.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Pure Go CPU backend (parallelism=" + strconv.Itoa(b.workers.MaxParallelism()) + ")"
}

// SupportsDType returns whether the backend kernels handle tensors of the given dtype.
func (b *Backend) SupportsDType(dtype dtypes.DType) bool {
	return dtype.IsFloat()
}
