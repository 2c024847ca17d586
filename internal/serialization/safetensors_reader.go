package serialization

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// SafeTensorsFile is a parsed SafeTensors file held in memory.
type SafeTensorsFile struct {
	Metadata map[string]string
	Tensors  map[string]SafeTensorHeader
	data     []byte
}

// ReadSafeTensors reads every tensor of a SafeTensors file into a state
// dictionary and returns it with the file metadata.
func ReadSafeTensors(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	f, err := OpenSafeTensors(path, ValidationStrict)
	if err != nil {
		return nil, nil, err
	}
	stateDict := make(map[string]*tensor.RawTensor, len(f.Tensors))
	for _, name := range f.TensorNames() {
		raw, err := f.Tensor(name)
		if err != nil {
			return nil, nil, err
		}
		stateDict[name] = raw
	}
	return stateDict, f.Metadata, nil
}

// OpenSafeTensors reads and validates a SafeTensors file.
func OpenSafeTensors(path string, level ValidationLevel) (*SafeTensorsFile, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer func() {
		_ = file.Close() // read-only handle
	}()

	f, err := DecodeSafeTensors(file, level)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return f, nil
}

// DecodeSafeTensors parses a SafeTensors stream.
func DecodeSafeTensors(r io.Reader, level ValidationLevel) (*SafeTensorsFile, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawMap); err != nil {
		return nil, errors.Wrap(ErrMalformedHeaderJSON, err.Error())
	}

	f := &SafeTensorsFile{
		Metadata: map[string]string{},
		Tensors:  make(map[string]SafeTensorHeader, len(rawMap)),
	}
	for key, value := range rawMap {
		if key == MetadataKey {
			if err := json.Unmarshal(value, &f.Metadata); err != nil {
				return nil, errors.Wrap(ErrMalformedHeaderJSON, "metadata: "+err.Error())
			}
			continue
		}
		var info SafeTensorHeader
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, errors.Wrapf(ErrMalformedHeaderJSON, "tensor %s: %v", key, err)
		}
		if info.DType != DTypeF32 {
			return nil, errors.Wrapf(ErrUnsupportedDType, "tensor %s has dtype %s", key, info.DType)
		}
		f.Tensors[key] = info
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tensor data")
	}
	f.data = data

	metas := make([]TensorMeta, 0, len(f.Tensors))
	for name, info := range f.Tensors {
		metas = append(metas, TensorMeta{
			Name:   name,
			Shape:  toInts(info.Shape),
			Offset: info.DataOffsets[0],
			Size:   info.DataOffsets[1] - info.DataOffsets[0],
		})
	}
	if err := ValidateHeader(metas, int64(len(data)), level); err != nil {
		return nil, err
	}

	if sum, ok := f.Metadata[ChecksumKey]; ok && level != ValidationNone {
		if err := ValidateChecksum(data, sum); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// TensorNames returns the tensor names in alphabetical order.
func (f *SafeTensorsFile) TensorNames() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor decodes the named tensor into a new RawTensor.
func (f *SafeTensorsFile) Tensor(name string) (*tensor.RawTensor, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, errors.Errorf("tensor %s not found", name)
	}
	shape := tensor.Shape(toInts(info.Shape))
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > int64(len(f.data)) {
		return nil, &ValidationError{Type: "out_of_bounds", Tensor: name, Details: "data offsets outside data section"}
	}
	if int64(shape.NumElements()*float32Size) != end-start {
		return nil, errors.Wrapf(ErrShapeSizeMismatch, "tensor %s shape %v, %d bytes", name, shape, end-start)
	}

	values := make([]float32, shape.NumElements())
	chunk := f.data[start:end]
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*float32Size:]))
	}
	raw, err := tensor.RawFromSlice(values, shape, tensor.CPU)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	return raw, nil
}

func toInts(shape []int64) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
