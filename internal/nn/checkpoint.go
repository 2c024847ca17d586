package nn

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/serialization"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// OptimizerState represents an optimizer that can save/load its state.
//
// This interface is used by checkpoints to serialize optimizer state
// without creating import cycles. Optimizers from the optim package
// implement this interface.
type OptimizerState interface {
	// StateDict returns the optimizer state for serialization.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict loads optimizer state from serialization.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error

	// GetLR returns the current learning rate.
	GetLR() float32
}

// StateDict returns a map of parameter names to their raw tensors.
//
// The returned tensors alias the live parameters; callers must not
// mutate them.
func StateDict(m Module) map[string]*tensor.RawTensor {
	params := m.Parameters()
	stateDict := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		stateDict[p.Name()] = p.Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict copies matching entries of stateDict into the module's
// parameters.
//
// Loading is partial: keys present in only one side are ignored. A key
// present in both with different shapes is an error and nothing is loaded.
// Returns the names that were applied, sorted.
func LoadStateDict(m Module, stateDict map[string]*tensor.RawTensor) ([]string, error) {
	type pair struct {
		param *Parameter
		src   *tensor.RawTensor
	}
	var matched []pair
	for _, p := range m.Parameters() {
		src, ok := stateDict[p.Name()]
		if !ok {
			continue
		}
		if !src.Shape().Equal(p.Tensor().Shape()) {
			return nil, errors.Errorf("parameter %s: checkpoint shape %v != model shape %v",
				p.Name(), src.Shape(), p.Tensor().Shape())
		}
		matched = append(matched, pair{param: p, src: src})
	}

	applied := make([]string, 0, len(matched))
	for _, mp := range matched {
		copy(mp.param.Tensor().Data(), mp.src.Data())
		applied = append(applied, mp.param.Name())
	}
	sort.Strings(applied)
	return applied, nil
}

// SaveModule writes the module's parameters to a SafeTensors file.
func SaveModule(path string, m Module, metadata map[string]string) error {
	if err := serialization.WriteSafeTensors(path, StateDict(m), metadata); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

// LoadModule reads a SafeTensors file into the module (partially, see
// LoadStateDict) and returns the file metadata with the applied names.
func LoadModule(path string, m Module) (map[string]string, []string, error) {
	stateDict, metadata, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return nil, nil, err
	}
	applied, err := LoadStateDict(m, stateDict)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s", path)
	}
	return metadata, applied, nil
}

// SaveOptimizer writes optimizer state to a SafeTensors file.
func SaveOptimizer(path string, opt OptimizerState) error {
	if err := serialization.WriteSafeTensors(path, opt.StateDict(), nil); err != nil {
		return errors.Wrapf(err, "save optimizer %s", path)
	}
	return nil
}

// LoadOptimizer restores optimizer state from a SafeTensors file.
func LoadOptimizer(path string, opt OptimizerState) error {
	stateDict, _, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return err
	}
	if err := opt.LoadStateDict(stateDict); err != nil {
		return errors.Wrapf(err, "load optimizer %s", path)
	}
	return nil
}
