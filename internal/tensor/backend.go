package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - cpu.CPUBackend: pure Go kernels parallelized with internal/parallel
//   - autodiff.AutodiffBackend: decorator recording operations on a tape
//
// Image tensors use NCHW layout. Sampling grids use NHW2 layout with the
// last axis holding (x, y) in [-1, 1].
type Backend interface {
	Name() string
	Device() Device

	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations (element-wise with scalar).
	AddScalar(x *RawTensor, s float32) *RawTensor
	MulScalar(x *RawTensor, s float32) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	Abs(x *RawTensor) *RawTensor
	Sin(x *RawTensor) *RawTensor
	Cos(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	ReLU(x *RawTensor) *RawTensor
	ELU(x *RawTensor) *RawTensor
	Clamp(x *RawTensor, lo, hi float32) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MinDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	ArgMinDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Shape operations.
	Reshape(x *RawTensor, newShape Shape) *RawTensor
	Transpose(x *RawTensor, axes ...int) *RawTensor
	Narrow(x *RawTensor, dim, start, length int) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor
	IndexSelect(x *RawTensor, dim int, indices []int) *RawTensor
	Shift2D(x *RawTensor, dy, dx int) *RawTensor

	// Matrix operations.
	//
	// MatMul multiplies the two trailing dimensions; leading (batch)
	// dimensions must be equal or 1 on one side.
	MatMul(a, b *RawTensor) *RawTensor
	// SqDist returns pairwise squared distances between the columns of
	// a [D, N] and b [D, M] as an [N, M] matrix.
	SqDist(a, b *RawTensor) *RawTensor

	// Image operations.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	AvgPool2D(x *RawTensor, kernelSize, stride int) *RawTensor
	AvgPool2DBackward(input, grad *RawTensor, kernelSize, stride int) *RawTensor
	ReflectionPad2D(x *RawTensor, pad int) *RawTensor
	ReflectionPad2DBackward(input, grad *RawTensor, pad int) *RawTensor
	Upsample2D(x *RawTensor, factor int) *RawTensor
	Upsample2DBackward(grad *RawTensor, factor int) *RawTensor
	Interpolate(x *RawTensor, height, width int) *RawTensor
	InterpolateBackward(input, grad *RawTensor) *RawTensor
	GridSample(input, grid *RawTensor) *RawTensor
	GridSampleBackward(input, grid, grad *RawTensor) (inputGrad, gridGrad *RawTensor)
}
