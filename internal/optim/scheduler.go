package optim

import "math"

// StepLR decays the learning rate by gamma every stepSize epochs.
//
//	lr_epoch = base_lr * gamma^(epoch / stepSize)
type StepLR struct {
	optimizer Optimizer
	baseLR    float32
	stepSize  int
	gamma     float32
	epoch     int
}

// NewStepLR creates a scheduler bound to optimizer, starting at its current LR.
func NewStepLR(optimizer Optimizer, stepSize int, gamma float32) *StepLR {
	if stepSize <= 0 {
		panic("StepLR: step size must be positive")
	}
	return &StepLR{
		optimizer: optimizer,
		baseLR:    optimizer.GetLR(),
		stepSize:  stepSize,
		gamma:     gamma,
	}
}

// Step advances one epoch and updates the optimizer's learning rate.
func (s *StepLR) Step() {
	s.epoch++
	s.optimizer.SetLR(s.LR())
}

// LR returns the learning rate for the current epoch.
func (s *StepLR) LR() float32 {
	decays := s.epoch / s.stepSize
	return s.baseLR * float32(math.Pow(float64(s.gamma), float64(decays)))
}

// Epoch returns the number of completed scheduler steps.
func (s *StepLR) Epoch() int {
	return s.epoch
}
