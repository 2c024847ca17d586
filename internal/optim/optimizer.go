// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - Adam: Adaptive Moment Estimation
//   - StepLR: step-decay learning rate schedule
//
// Optimizers read the gradients accumulated on each nn.Parameter, so
// several backward passes may contribute to one update.
//
// Example usage:
//
//	optimizer := optim.NewAdam(params, optim.AdamConfig{LR: 1e-4})
//	scheduler := optim.NewStepLR(optimizer, 15, 0.1)
//
//	for step := range steps {
//	    backend.Tape().Clear()
//	    loss := computeLoss(batch)
//	    grads := autodiff.Backward(loss, backend)
//	    for _, p := range params {
//	        p.AccumulateGrad(grads.Of(p.Tensor()))
//	    }
//	    if (step+1)%itersPerUpdate == 0 {
//	        optimizer.Step()
//	        optimizer.ZeroGrad()
//	    }
//	}
//	scheduler.Step() // once per epoch
package optim

// Optimizer is the base interface for all optimization algorithms.
//
// All optimizers must implement:
//   - Step: Apply accumulated gradients to parameters
//   - ZeroGrad: Clear gradients before the next accumulation window
//   - GetLR/SetLR: Learning rate access for scheduling
type Optimizer interface {
	// Step applies the accumulated parameter gradients.
	//
	// Parameters without a gradient are left untouched.
	Step()

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR updates the learning rate.
	SetLR(lr float32)
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}
