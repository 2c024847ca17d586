package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/tensor"
)

func rawOf(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.RawFromSlice(data, shape, tensor.CPU)
	require.NoError(t, err)
	return r
}

func TestSafeTensors_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoder.safetensors")
	stateDict := map[string]*tensor.RawTensor{
		"conv.weight": rawOf(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3),
		"conv.bias":   rawOf(t, []float32{0.1, -0.2, 0.3}, 3),
	}
	metadata := map[string]string{"height": "192", "width": "640", "use_stereo": "false"}

	require.NoError(t, WriteSafeTensors(path, stateDict, metadata))
	assert.NotContains(t, metadata, ChecksumKey, "caller metadata must not be modified")

	loaded, meta, err := ReadSafeTensors(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "192", meta["height"])
	assert.Equal(t, "640", meta["width"])
	assert.Equal(t, "false", meta["use_stereo"])
	assert.NotEmpty(t, meta[ChecksumKey])

	for name, want := range stateDict {
		got := loaded[name]
		require.NotNil(t, got, name)
		assert.Equal(t, want.Shape(), got.Shape(), name)
		assert.Equal(t, want.Data(), got.Data(), name)
	}
}

func TestSafeTensors_HeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "layout.safetensors")
	require.NoError(t, WriteSafeTensors(path, map[string]*tensor.RawTensor{
		"b": rawOf(t, []float32{2}, 1),
		"a": rawOf(t, []float32{1, 1}, 2),
	}, nil))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	buf.Write(content)

	var size uint64
	require.NoError(t, binary.Read(&buf, binary.LittleEndian, &size))
	var header map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf.Next(int(size)), &header))

	var a, b SafeTensorHeader
	require.NoError(t, json.Unmarshal(header["a"], &a))
	require.NoError(t, json.Unmarshal(header["b"], &b))
	assert.Equal(t, [2]int64{0, 8}, a.DataOffsets, "names are laid out alphabetically")
	assert.Equal(t, [2]int64{8, 12}, b.DataOffsets)
	assert.Equal(t, DTypeF32, a.DType)
	assert.Equal(t, 12, buf.Len())
}

func TestSafeTensors_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.safetensors")
	require.NoError(t, WriteSafeTensors(path, map[string]*tensor.RawTensor{
		"w": rawOf(t, []float32{1, 2, 3}, 3),
	}, nil))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	content[len(content)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, _, err = ReadSafeTensors(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	f, err := OpenSafeTensors(path, ValidationNone)
	require.NoError(t, err, "validation disabled skips the checksum")
	assert.Equal(t, []string{"w"}, f.TensorNames())
}

func TestDecodeSafeTensors_Rejects(t *testing.T) {
	encode := func(header string, data []byte) *bytes.Reader {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.LittleEndian, uint64(len(header)))
		buf.WriteString(header)
		buf.Write(data)
		return bytes.NewReader(buf.Bytes())
	}

	tests := []struct {
		name   string
		header string
		data   []byte
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unsupported dtype",
			header: `{"x":{"dtype":"F16","shape":[1],"data_offsets":[0,2]}}`,
			data:   make([]byte, 2),
			check:  func(t *testing.T, err error) { assert.True(t, errors.Is(err, ErrUnsupportedDType)) },
		},
		{
			name:   "malformed json",
			header: `{"x":`,
			check:  func(t *testing.T, err error) { assert.True(t, errors.Is(err, ErrMalformedHeaderJSON)) },
		},
		{
			name:   "overlapping tensors",
			header: `{"a":{"dtype":"F32","shape":[2],"data_offsets":[0,8]},"b":{"dtype":"F32","shape":[2],"data_offsets":[4,12]}}`,
			data:   make([]byte, 12),
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, "offset_overlap", ve.Type)
			},
		},
		{
			name:   "out of bounds",
			header: `{"a":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`,
			data:   make([]byte, 8),
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, "out_of_bounds", ve.Type)
			},
		},
		{
			name:   "path traversal name",
			header: `{"../a":{"dtype":"F32","shape":[1],"data_offsets":[0,4]}}`,
			data:   make([]byte, 4),
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, "invalid_name", ve.Type)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSafeTensors(encode(tt.header, tt.data), ValidationStrict)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSafeTensorsFile_ShapeSizeMismatch(t *testing.T) {
	var buf bytes.Buffer
	header := `{"a":{"dtype":"F32","shape":[3],"data_offsets":[0,8]}}`
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(header)))
	buf.WriteString(header)
	buf.Write(make([]byte, 8))

	f, err := DecodeSafeTensors(&buf, ValidationStrict)
	require.NoError(t, err)
	_, err = f.Tensor("a")
	assert.True(t, errors.Is(err, ErrShapeSizeMismatch))

	_, err = f.Tensor("missing")
	assert.Error(t, err)
}

func TestSafeTensorsWriter_ClosedAndIdempotentClose(t *testing.T) {
	w, err := NewSafeTensorsWriter(filepath.Join(t.TempDir(), "w.safetensors"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteStateDict(nil, nil), ErrWriterClosed)
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantType string
	}{
		{
			name:     "exact boundary",
			tensors:  []TensorMeta{{Name: "a", Offset: 0, Size: 100}, {Name: "b", Offset: 100, Size: 100}},
			dataSize: 200,
		},
		{
			name:     "overlap by one byte",
			tensors:  []TensorMeta{{Name: "a", Offset: 0, Size: 100}, {Name: "b", Offset: 99, Size: 100}},
			dataSize: 200,
			wantType: "offset_overlap",
		},
		{
			name:     "negative",
			tensors:  []TensorMeta{{Name: "a", Offset: -1, Size: 4}},
			dataSize: 200,
			wantType: "negative_offset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if tt.wantType == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantType, ve.Type)
		})
	}
}

func TestValidateTensorName(t *testing.T) {
	assert.NoError(t, ValidateTensorName("encoder.stage.0.conv.weight"))
	assert.Error(t, ValidateTensorName("a/b"))
	assert.Error(t, ValidateTensorName("a\x00b"))
	assert.Error(t, ValidateTensorName(string(make([]byte, MaxTensorNameLen+1))))
}
