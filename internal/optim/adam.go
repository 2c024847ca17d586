package optim

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/nn"
	"github.com/born-ml/cvodepth/internal/tensor"
)

// State dictionary keys.
const (
	stateStep   = "step"
	stateLR     = "lr"
	statePrefM  = "exp_avg."
	statePrefV  = "exp_avg_sq."
	stateFields = 2
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
//
// Example:
//
//	optimizer := optim.NewAdam(params, optim.AdamConfig{
//	    LR:    1e-4,
//	    Betas: [2]float32{0.9, 0.999},
//	    Eps:   1e-8,
//	})
type Adam struct {
	params []*nn.Parameter
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int                         // Timestep for bias correction
	m      map[*nn.Parameter][]float32 // First moment estimates
	v      map[*nn.Parameter][]float32 // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer.
//
// Default hyperparameters:
//   - LR: 0.001
//   - Beta1: 0.9
//   - Beta2: 0.999
//   - Eps: 1e-8
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*nn.Parameter][]float32),
		v:      make(map[*nn.Parameter][]float32),
	}
}

// Step performs a single optimization step using Adam algorithm.
//
// Parameters with no accumulated gradient are skipped.
func (a *Adam) Step() {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := param.Grad()
		if grad == nil {
			continue
		}
		n := param.Tensor().NumElements()
		m, ok := a.m[param]
		if !ok {
			m = make([]float32, n)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = make([]float32, n)
			a.v[param] = v
		}
		a.updateParameter(param.Tensor().Data(), grad.Data(), m, v, biasCorrection1, biasCorrection2)
	}
}

// updateParameter performs Adam update for a single parameter.
func (a *Adam) updateParameter(paramData, gradData, mData, vData []float32, biasCorrection1, biasCorrection2 float32) {
	for i := range paramData {
		g := gradData[i]
		mData[i] = a.beta1*mData[i] + (1.0-a.beta1)*g
		vData[i] = a.beta2*vData[i] + (1.0-a.beta2)*g*g

		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2
		paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	nn.ZeroGrad(a.params)
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
//
// Useful for learning rate scheduling during training.
func (a *Adam) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the current timestep.
func (a *Adam) GetTimestep() int {
	return a.t
}

// StateDict returns the optimizer state for serialization.
//
// State keys: "step", "lr", "exp_avg.<param>" and "exp_avg_sq.<param>".
// Moments are exported only for parameters that have been updated.
func (a *Adam) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor, stateFields+2*len(a.m))
	stateDict[stateStep] = scalarRaw(float32(a.t))
	stateDict[stateLR] = scalarRaw(a.lr)

	for _, param := range a.params {
		m, ok := a.m[param]
		if !ok {
			continue
		}
		stateDict[statePrefM+param.Name()] = momentRaw(m, param)
		stateDict[statePrefV+param.Name()] = momentRaw(a.v[param], param)
	}
	return stateDict
}

// LoadStateDict loads optimizer state from serialization.
//
// Moments are restored for parameters whose names appear in stateDict;
// others start from zero. Returns an error if a moment shape doesn't
// match its parameter.
func (a *Adam) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	m := make(map[*nn.Parameter][]float32)
	v := make(map[*nn.Parameter][]float32)
	for _, param := range a.params {
		mRaw, okM := stateDict[statePrefM+param.Name()]
		vRaw, okV := stateDict[statePrefV+param.Name()]
		if !okM || !okV {
			continue
		}
		for _, raw := range []*tensor.RawTensor{mRaw, vRaw} {
			if !raw.Shape().Equal(param.Tensor().Shape()) {
				return errors.Errorf("adam state shape mismatch for %s: expected %v, got %v",
					param.Name(), param.Tensor().Shape(), raw.Shape())
			}
		}
		m[param] = append([]float32(nil), mRaw.Data()...)
		v[param] = append([]float32(nil), vRaw.Data()...)
	}

	if step, ok := stateDict[stateStep]; ok {
		a.t = int(step.Data()[0])
	}
	if lr, ok := stateDict[stateLR]; ok {
		a.lr = lr.Data()[0]
	}
	a.m, a.v = m, v
	return nil
}

func scalarRaw(v float32) *tensor.RawTensor {
	r := tensor.MustNewRaw(tensor.Shape{1}, tensor.CPU)
	r.Data()[0] = v
	return r
}

func momentRaw(data []float32, param *nn.Parameter) *tensor.RawTensor {
	r, err := tensor.RawFromSlice(data, param.Tensor().Shape(), tensor.CPU)
	if err != nil {
		panic(err)
	}
	return r
}
