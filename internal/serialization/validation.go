package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Header limits. Checkpoints of the depth and pose networks stay far below
// them.
const (
	MaxHeaderSize    = 16 << 20
	MaxTensorCount   = 50_000
	MaxTensorNameLen = 1024
)

// ValidationLevel controls how much of a header is checked when reading.
type ValidationLevel int

// Validation levels.
const (
	// ValidationStrict checks names and data offsets.
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names only.
	ValidationNormal
	// ValidationNone trusts the file.
	ValidationNone
)

// ValidateHeader checks the tensor entries of a header against the size of
// the data section.
func ValidateHeader(tensors []TensorMeta, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if err := checkCount(len(tensors)); err != nil {
		return err
	}
	for _, t := range tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
	}
	if level != ValidationStrict {
		return nil
	}
	return ValidateTensorOffsets(tensors, dataSize)
}

// ValidateTensorOffsets rejects negative, out-of-bounds and overlapping data
// regions.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if err := checkCount(len(tensors)); err != nil {
		return err
	}

	byOffset := append([]TensorMeta(nil), tensors...)
	sort.Slice(byOffset, func(i, j int) bool { return byOffset[i].Offset < byOffset[j].Offset })

	for i, t := range byOffset {
		end := t.Offset + t.Size
		switch {
		case t.Offset < 0 || t.Size < 0:
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		case end > dataSize:
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("region ends at %d, data has %d bytes", end, dataSize),
			}
		}
		if i+1 < len(byOffset) && end > byOffset[i+1].Offset {
			next := byOffset[i+1]
			return &ValidationError{
				Type:    "offset_overlap",
				Tensor:  t.Name,
				Tensor2: next.Name,
				Details: fmt.Sprintf("[%d, %d) overlaps [%d, %d)", t.Offset, end, next.Offset, next.Offset+next.Size),
			}
		}
	}
	return nil
}

// ValidateTensorName accepts dotted parameter paths such as
// "encoder.stage.0.conv.weight". Path separators, ".." and NUL bytes are
// rejected.
func ValidateTensorName(name string) error {
	invalid := func(details string) error {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: details}
	}
	switch {
	case len(name) > MaxTensorNameLen:
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	case name == "":
		return invalid("empty")
	case strings.Contains(name, ".."):
		return invalid(`contains ".."`)
	case strings.ContainsAny(name, `/\`):
		return invalid("contains a path separator")
	case strings.ContainsRune(name, 0):
		return invalid("contains a NUL byte")
	}
	return nil
}

func checkCount(n int) error {
	if n > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", n, MaxTensorCount),
		}
	}
	return nil
}
