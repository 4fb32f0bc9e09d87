// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints saves and loads a network.Network, structure and weights, to a single file.
//
// File layout:
//
//	-------------------------------------------------------------------------------------------
//	| "prunekit_checkpoint" | len | "gzip" | uint32 BE json length | json | tensor data ...   |
//	-------------------------------------------------------------------------------------------
//
// The JSON metadata describes the network (its layers and wiring) and lists every tensor with its
// shape and its position and length in bytes in the (decompressed) data section. Tensors are stored
// raw, little-endian, in the order they are listed. Saving and loading is bit-exact.
//
// Example:
//
//	path := checkpoints.Filename(outputDir, "resnet18", "_pruned")  // outputDir/resnet18_pruned.ckpt
//	err := checkpoints.Save(path, net)
//	...
//	net2, err := checkpoints.Load(path)
package checkpoints

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prunekit/prunekit/pkg/core/dtypes"
	"github.com/prunekit/prunekit/pkg/core/shapes"
	"github.com/prunekit/prunekit/pkg/core/tensors"
	"github.com/prunekit/prunekit/pkg/ml/network"
	"k8s.io/klog/v2"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// FilePermMode is the permission (before umask) of the checkpoint files.
	FilePermMode = os.FileMode(0644)

	// ErrUnsupportedCompression signifies an error when a compression type is not supported.
	ErrUnsupportedCompression = errors.New("unsupported compression")

	// ErrNotACheckpoint is returned when loading a file that doesn't start with the checkpoint header.
	ErrNotACheckpoint = errors.New("not a prunekit checkpoint")
)

const (
	// Ext is the extension of checkpoint files.
	Ext = ".ckpt"

	binHeader    = "prunekit_checkpoint"
	lenBinHeader = len(binHeader)

	// tmpSuffix of the files being written, before they are renamed to their final name.
	tmpSuffix = ".tmp"

	// maxJSONLength protects against allocating absurd amounts of memory for corrupted files.
	maxJSONLength = 1 << 28
)

// Filename returns the checkpoint path for a model: dir/<name><suffix>.ckpt.
func Filename(dir, name, suffix string) string {
	return filepath.Join(dir, name+suffix+Ext)
}

// serializedData is how the metadata is read and written from storage.
type serializedData struct {
	Name          string
	InputChannels int
	DType         string
	Output        string
	Layers        []serializedLayer

	// Tensors in the order they are stored.
	Tensors []serializedTensor

	// BinFormat describes the format used by the data section. It is informative.
	BinFormat string

	RunID   string
	SavedAt time.Time
}

// serializedTensor contains information about a tensor that was serialized.
type serializedTensor struct {
	// Path of the layer owning the tensor, and the name of the parameter within the layer.
	Path, Param string

	// Dimensions of the shape.
	Dimensions []int

	// DType of the shape.
	DType string

	// Pos, Length in bytes in the data section.
	Pos, Length int
}

// Info about a loaded checkpoint, besides the network itself.
type Info struct {
	Path      string
	BinFormat BinFormat
	RunID     string
	SavedAt   time.Time

	// FileSize in bytes.
	FileSize int64
}

// Save the network to path. The parent directory is created if needed.
//
// All tensors of the network must be set: it returns an error otherwise.
func Save(path string, net *network.Network, options ...Option) (err error) {
	opts := collectOptions(options...)
	if opts.runID == "" {
		opts.runID = uuid.NewString()
	}
	if err = net.Validate(); err != nil {
		return errors.WithMessagef(err, "checkpoints.Save(%q)", path)
	}

	// Build the metadata: tensor positions are known up-front, from their shapes.
	serialized := &serializedData{
		Name:          net.Name,
		InputChannels: net.InputChannels,
		DType:         net.DType.String(),
		Output:        net.Output,
		BinFormat:     opts.binFormat.String(),
		RunID:         opts.runID,
		SavedAt:       time.Now().UTC(),
	}
	for _, layer := range net.Layers {
		var s serializedLayer
		s, err = serializeLayer(layer)
		if err != nil {
			return errors.WithMessagef(err, "checkpoints.Save(%q)", path)
		}
		serialized.Layers = append(serialized.Layers, s)
	}
	var toWrite []*tensors.Tensor
	pos := 0
	_ = net.Walk(func(layerPath string, layer network.Layer) error {
		for _, p := range layer.Params() {
			t := *p.Value
			serialized.Tensors = append(serialized.Tensors, serializedTensor{
				Path:       layerPath,
				Param:      p.Name,
				Dimensions: t.Shape().Dimensions,
				DType:      t.DType().String(),
				Pos:        pos,
				Length:     int(t.Memory()),
			})
			pos += int(t.Memory())
			toWrite = append(toWrite, t)
		}
		return nil
	})
	jsonData, err := json.Marshal(serialized)
	if err != nil {
		return errors.Wrapf(err, "checkpoints.Save(%q): failed to encode metadata", path)
	}

	err = writeFileAtomically(path, func(f io.Writer) error {
		w := bufio.NewWriter(f)
		if err := writeHeader(w, opts.binFormat, jsonData); err != nil {
			return err
		}
		dataWriter := io.Writer(w)
		var zw *gzip.Writer
		if opts.binFormat == BinGZIP {
			zw = gzip.NewWriter(w)
			dataWriter = zw
		}
		for ii, t := range toWrite {
			info := serialized.Tensors[ii]
			n, err := t.Write(dataWriter)
			if err != nil {
				return errors.WithMessagef(err, "tensor %s/%s", info.Path, info.Param)
			}
			if n != info.Length {
				return errors.Errorf("tensor %s/%s -- %d bytes requested, %d bytes written",
					info.Path, info.Param, info.Length, n)
			}
		}
		if zw != nil {
			if err := zw.Close(); err != nil {
				return errors.Wrap(err, "failed to flush compressed data")
			}
		}
		return errors.Wrap(w.Flush(), "failed to flush file")
	})
	if err != nil {
		return errors.WithMessagef(err, "checkpoints.Save(%q)", path)
	}
	klog.V(1).Infof("saved checkpoint %q: %d tensors, %d bytes of weights, run %s",
		path, len(toWrite), pos, opts.runID)
	return nil
}

// writeFileAtomically writes path with write, through a temporary file in the same directory that is
// renamed to path only if everything was written. On failure path is left untouched.
func writeFileAtomically(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, DirPermMode); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	tmpPath := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	if err = f.Chmod(FilePermMode); err != nil {
		return errors.Wrap(err, "failed to set file permissions")
	}
	if err = write(f); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "failed to close file")
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "failed to rename %q", tmpPath)
	}
	return nil
}

// writeHeader writes the binary header, the compression name and the metadata.
func writeHeader(w io.Writer, bf BinFormat, jsonData []byte) error {
	compression := bf.String()
	var h []byte
	h = append(h, []byte(binHeader)...)
	h = append(h, byte(len(compression)))
	h = append(h, []byte(compression)...)
	h = binary.BigEndian.AppendUint32(h, uint32(len(jsonData)))
	h = append(h, jsonData...)
	if _, err := w.Write(h); err != nil {
		return errors.Wrap(err, "write header")
	}
	return nil
}

// Load a network from the checkpoint in path.
func Load(path string) (*network.Network, error) {
	net, _, err := LoadWithInfo(path)
	return net, err
}

// LoadWithInfo loads a network from the checkpoint in path, and returns also information about the checkpoint.
func LoadWithInfo(path string) (*network.Network, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "checkpoints.Load(%q): failed to open checkpoint", path)
	}
	defer func() { _ = f.Close() }()
	info := &Info{Path: path}
	if stat, err := f.Stat(); err == nil {
		info.FileSize = stat.Size()
	}
	net, err := read(bufio.NewReader(f), info)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "checkpoints.Load(%q)", path)
	}
	return net, info, nil
}

// read the whole checkpoint from r and rebuilds the network.
func read(r io.Reader, info *Info) (*network.Network, error) {
	buf := make([]byte, lenBinHeader)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if string(buf) != binHeader {
		return nil, ErrNotACheckpoint
	}
	var compressionLen uint8
	if err := binary.Read(r, binary.BigEndian, &compressionLen); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	buf = make([]byte, compressionLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	bf, ok := binFormatFromString(string(buf))
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedCompression, "compression %q", buf)
	}
	info.BinFormat = bf
	var jsonLen uint32
	if err := binary.Read(r, binary.BigEndian, &jsonLen); err != nil {
		return nil, errors.Wrap(err, "read metadata length")
	}
	if jsonLen > maxJSONLength {
		return nil, errors.Errorf("metadata length %d is larger than the maximum %d, file corrupted?", jsonLen, maxJSONLength)
	}
	jsonData := make([]byte, jsonLen)
	if _, err := io.ReadFull(r, jsonData); err != nil {
		return nil, errors.Wrap(err, "read metadata")
	}
	var serialized serializedData
	if err := json.Unmarshal(jsonData, &serialized); err != nil {
		return nil, errors.Wrap(err, "failed to decode metadata of checkpoint")
	}
	info.RunID, info.SavedAt = serialized.RunID, serialized.SavedAt

	net, err := rebuildNetwork(&serialized)
	if err != nil {
		return nil, err
	}

	dataReader := r
	if bf == BinGZIP {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "read gzip header")
		}
		defer func() { _ = zr.Close() }()
		dataReader = zr
	}

	// Load tensor values: we assume they are stored in order.
	var memoryPos int
	for _, tensorInfo := range serialized.Tensors {
		dtype, err := dtypes.DTypeString(tensorInfo.DType)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %s/%s", tensorInfo.Path, tensorInfo.Param)
		}
		if len(tensorInfo.Dimensions) == 0 {
			return nil, errors.Errorf("tensor %s/%s has no dimensions", tensorInfo.Path, tensorInfo.Param)
		}
		for _, dim := range tensorInfo.Dimensions {
			if dim <= 0 {
				return nil, errors.Errorf("tensor %s/%s has invalid dimensions %v",
					tensorInfo.Path, tensorInfo.Param, tensorInfo.Dimensions)
			}
		}
		shape := shapes.Make(dtype, tensorInfo.Dimensions...)
		if tensorInfo.Pos != memoryPos {
			return nil, errors.Errorf("tensor %s/%s (%s) position at %d is out-of-order, expected it to be in %d",
				tensorInfo.Path, tensorInfo.Param, shape, tensorInfo.Pos, memoryPos)
		}
		if tensorInfo.Length != int(shape.Memory()) {
			return nil, errors.Errorf("tensor %s/%s (%s) has length %d bytes, but its shape requires %d bytes",
				tensorInfo.Path, tensorInfo.Param, shape, tensorInfo.Length, shape.Memory())
		}
		memoryPos += tensorInfo.Length
		t, err := tensors.Read(dataReader, shape)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read contents of tensor %s/%s at position %d",
				tensorInfo.Path, tensorInfo.Param, tensorInfo.Pos)
		}
		if err = assignParam(net, tensorInfo.Path, tensorInfo.Param, t); err != nil {
			return nil, err
		}
	}
	var extra [1]byte
	if n, _ := dataReader.Read(extra[:]); n != 0 {
		return nil, errors.Errorf("unexpected data after the last tensor (at position %d)", memoryPos)
	}
	if err := net.Validate(); err != nil {
		return nil, errors.WithMessage(err, "loaded network is inconsistent")
	}
	return net, nil
}

// rebuildNetwork creates the network structure, without tensors, from the metadata.
func rebuildNetwork(serialized *serializedData) (*network.Network, error) {
	dtype, err := dtypes.DTypeString(serialized.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "network %q", serialized.Name)
	}
	layers := make([]network.Layer, 0, len(serialized.Layers))
	for _, s := range serialized.Layers {
		layer, err := deserializeLayer(s)
		if err != nil {
			return nil, errors.WithMessagef(err, "network %q", serialized.Name)
		}
		layers = append(layers, layer)
	}
	net, err := network.New(serialized.Name, serialized.InputChannels, layers...)
	if err != nil {
		return nil, err
	}
	net.DType = dtype
	if serialized.Output != "" {
		net.Output = serialized.Output
	}
	return net, nil
}

// assignParam sets the parameter named param of the layer at the given path.
func assignParam(net *network.Network, path, param string, t *tensors.Tensor) error {
	layer, err := net.Lookup(path)
	if err != nil {
		return err
	}
	for _, p := range layer.Params() {
		if p.Name == param {
			if *p.Value != nil {
				return errors.Errorf("tensor %s/%s stored more than once", path, param)
			}
			*p.Value = t
			return nil
		}
	}
	return errors.Errorf("layer %q (%s) has no parameter %q", path, layer.Kind(), param)
}
