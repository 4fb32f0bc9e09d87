// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestNetwork(t *testing.T, dtype dtypes.DType) *network.Network {
	net, err := network.New("roundtrip", 3,
		network.NewConv2D("stem", 3, 8, 3).WithPadding(1).WithBias(),
		network.NewBatchNorm("stem_bn", 8),
		network.NewActivation("stem_relu", "relu"),
		network.NewMaxPool("pool0", 2, 2, 0),
		network.NewResidual("block0", 8, 8, 1),
		network.NewResidual("block1", 8, 16, 2),
		network.NewOpaque("attention", 16, "squeeze-excitation"),
		network.NewUpsample("up", 2),
		network.NewConv2D("side", 16, 4, 1, "up"),
		network.NewConv2D("side2", 16, 4, 1, "up"),
		network.NewConcat("cat", "side", "side2"),
		network.NewAdd("sum", "cat", "cat"),
		network.NewGlobalAvgPool("gap"),
		network.NewFlatten("flatten"),
		network.NewLinear("fc", 8, 10),
	)
	require.NoError(t, err)
	net.DType = dtype
	network.Initialize(net, 7)
	return net
}

func requireSameNetwork(t *testing.T, want, got *network.Network) {
	require.Equal(t, want.Name, got.Name)
	require.Equal(t, want.InputChannels, got.InputChannels)
	require.Equal(t, want.DType, got.DType)
	require.Equal(t, want.Output, got.Output)
	require.Equal(t, want.NumParameters(), got.NumParameters())
	require.Len(t, got.Layers, len(want.Layers))
	require.NoError(t, want.Walk(func(path string, layer network.Layer) error {
		other, err := got.Lookup(path)
		require.NoError(t, err)
		require.Equal(t, layer.Kind(), other.Kind(), "layer %q", path)
		require.Equal(t, layer.Inputs(), other.Inputs(), "layer %q", path)
		otherParams := other.Params()
		require.Len(t, otherParams, len(layer.Params()), "layer %q", path)
		for ii, p := range layer.Params() {
			require.Equal(t, p.Name, otherParams[ii].Name)
			require.True(t, (*p.Value).Equal(*otherParams[ii].Value), "layer %q param %q differs", path, p.Name)
		}
		return nil
	}))
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float64, dtypes.Float16} {
		for _, bf := range []BinFormat{BinGZIP, BinUncompressed} {
			net := buildTestNetwork(t, dtype)
			path := Filename(filepath.Join(dir, "models"), net.Name+"_"+dtype.String(), "_"+bf.String())
			require.NoError(t, Save(path, net, WithCompression(bf), WithRunID("run-1")))

			loaded, info, err := LoadWithInfo(path)
			require.NoError(t, err)
			assert.Equal(t, bf, info.BinFormat)
			assert.Equal(t, "run-1", info.RunID)
			assert.Greater(t, info.FileSize, int64(0))
			requireSameNetwork(t, net, loaded)

			conv := must.M1(loaded.Lookup("block1/downsample.conv")).(*network.Conv2D)
			assert.Equal(t, 2, conv.Stride)
			pool := must.M1(loaded.Lookup("pool0")).(*network.Pool)
			assert.Equal(t, network.PoolMax, pool.Type)
			opaque := must.M1(loaded.Lookup("attention")).(*network.Opaque)
			assert.Equal(t, "squeeze-excitation", opaque.Description)
		}
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, filepath.Join("models", "resnet18_pruned.ckpt"), Filename("models", "resnet18", "_pruned"))
}

func TestSaveRejectsUninitialized(t *testing.T) {
	net := must.M1(network.New("empty", 3, network.NewConv2D("c", 3, 4, 1)))
	require.Error(t, Save(filepath.Join(t.TempDir(), "x.ckpt"), net))
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	net := buildTestNetwork(t, dtypes.Float32)
	path := filepath.Join(dir, "model.ckpt")
	require.NoError(t, Save(path, net))
	contents := must.M1(os.ReadFile(path))

	failedWrite := func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("disk full")
	}
	// A failed write leaves the previous checkpoint untouched.
	require.ErrorContains(t, writeFileAtomically(path, failedWrite), "disk full")
	assert.Equal(t, contents, must.M1(os.ReadFile(path)))
	requireSameNetwork(t, net, must.M1(Load(path)))

	// And doesn't create a new one.
	newPath := filepath.Join(dir, "new.ckpt")
	require.Error(t, writeFileAtomically(newPath, failedWrite))
	assert.NoFileExists(t, newPath)

	// No temporary files are left behind.
	entries := must.M1(os.ReadDir(dir))
	require.Len(t, entries, 1)
	assert.Equal(t, "model.ckpt", entries[0].Name())
}

func TestLayerAttributes(t *testing.T) {
	conv := network.NewConv2D("c", 3, 4, 3).WithPadding(1)
	attrs := must.M1(LayerAttributes(conv))
	assert.Contains(t, attrs, `"Padding":1`)

	strided := network.NewConv2D("c", 3, 4, 3).WithPadding(1).WithStride(2)
	assert.NotEqual(t, attrs, must.M1(LayerAttributes(strided)))

	block := network.NewResidual("block", 4, 4, 1)
	blockAttrs := must.M1(LayerAttributes(block))
	block.BN2.Epsilon *= 10
	assert.NotEqual(t, blockAttrs, must.M1(LayerAttributes(block)))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.ckpt"))
	require.Error(t, err)

	garbage := filepath.Join(dir, "garbage.ckpt")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not a prunekit checkpoint at all"), 0o600))
	_, err = Load(garbage)
	require.ErrorIs(t, err, ErrNotACheckpoint)

	// Truncated data section.
	net := buildTestNetwork(t, dtypes.Float32)
	path := filepath.Join(dir, "truncated.ckpt")
	require.NoError(t, Save(path, net, WithCompression(BinUncompressed)))
	contents := must.M1(os.ReadFile(path))
	require.NoError(t, os.WriteFile(path, contents[:len(contents)-3], 0o600))
	_, err = Load(path)
	require.Error(t, err)

	// Trailing data.
	require.NoError(t, os.WriteFile(path, append(contents, 0), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "unexpected data")
}
