// Package serialization reads and writes checkpoints in SafeTensors format.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON object, tensor name -> {dtype, shape, data_offsets},
//	   plus an optional "__metadata__" string map]
//	  [Tensor data: raw little-endian float32, tensors in name order]
//
// Every file written by this package carries a "checksum" metadata entry
// holding the hex SHA-256 of the data section; readers verify it when
// present. Headers are validated before any tensor data is trusted:
// names, tensor count and data offsets (no overlap, no out-of-bounds).
//
// Example usage:
//
//	// Save a state dictionary with metadata
//	err := serialization.WriteSafeTensors("encoder.safetensors", stateDict,
//	    map[string]string{"height": "192", "width": "640"})
//
//	// Load it back
//	stateDict, metadata, err := serialization.ReadSafeTensors("encoder.safetensors")
package serialization
