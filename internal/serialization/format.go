package serialization

// Format constants.
const (
	HeaderSizeBytes = 8              // uint64 LE header length prefix
	MetadataKey     = "__metadata__" // reserved header key for string metadata
	ChecksumKey     = "checksum"     // metadata key holding the hex SHA-256 of the data section
	DTypeF32        = "F32"          // the only dtype the float32 substrate produces
	float32Size     = 4
)

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section
}

// TensorMeta describes where a tensor lives in the data section.
type TensorMeta struct {
	Name   string // Tensor name (e.g., "encoder.conv1.weight")
	Shape  []int  // Tensor shape
	Offset int64  // Offset in the data section
	Size   int64  // Size in bytes
}
