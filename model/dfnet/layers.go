// layers.go - Grundlegende Layer des DFNet
// Enthaelt Conv2D, DepthwiseSeparableConv, ConvTranspose2D, Normalisierung und Aktivierungen

package dfnet

import (
	"fmt"
	"slices"
	"sync"

	"github.com/deepfusion/dfnet/ml"
)

// Conv2D ist eine 2D-Faltung mit optionalem Bias
type Conv2D struct {
	Weight *ml.Tensor `weight:"weight"`
	Bias   *ml.Tensor `weight:"bias,optional"`

	In, Out int
	Kernel  int
	Stride  int
	Padding int
	Groups  int
}

// Forward wendet die Faltung an (NCHW)
func (c *Conv2D) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	return ctx.Conv2D(x, c.Weight, c.Bias, ml.Conv2DParams{Stride: c.Stride, Padding: c.Padding, Groups: c.Groups})
}

// Validate prueft die Gewichtsform gegen die Konfiguration
func (c *Conv2D) Validate() error {
	if c.Out == 0 {
		return nil
	}

	want := []int{c.Out, c.In / max(c.Groups, 1), c.Kernel, c.Kernel}
	if c.Weight == nil || !slices.Equal(c.Weight.Shape(), want) {
		return fmt.Errorf("conv weight: expected shape %v, got %v", want, shapeOf(c.Weight))
	}
	if c.Bias != nil && c.Bias.Len() != c.Out {
		return fmt.Errorf("conv bias: expected %d values, got %d", c.Out, c.Bias.Len())
	}
	return nil
}

func shapeOf(t *ml.Tensor) any {
	if t == nil {
		return "none"
	}
	return t.Shape()
}

// DepthwiseSeparableConv: depthwise (groups=in) gefolgt von 1x1 pointwise
type DepthwiseSeparableConv struct {
	Depthwise *Conv2D `weight:"depthwise"`
	Pointwise *Conv2D `weight:"pointwise"`
}

func newDSConv(in, out, kernel, stride, padding int) *DepthwiseSeparableConv {
	return &DepthwiseSeparableConv{
		Depthwise: &Conv2D{In: in, Out: in, Kernel: kernel, Stride: stride, Padding: padding, Groups: in},
		Pointwise: &Conv2D{In: in, Out: out, Kernel: 1, Stride: 1, Groups: 1},
	}
}

func (c *DepthwiseSeparableConv) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	return c.Pointwise.Forward(ctx, c.Depthwise.Forward(ctx, x))
}

// ConvTranspose2D ist eine transponierte Faltung, Gewicht [In, Out, K, K]
type ConvTranspose2D struct {
	Weight *ml.Tensor `weight:"weight"`
	Bias   *ml.Tensor `weight:"bias,optional"`

	Channels      int
	Kernel        int
	Stride        int
	Padding       int
	OutputPadding int
}

func (c *ConvTranspose2D) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	return ctx.ConvTranspose2D(x, c.Weight, c.Bias, ml.ConvTranspose2DParams{Stride: c.Stride, Padding: c.Padding, OutputPadding: c.OutputPadding})
}

func (c *ConvTranspose2D) Validate() error {
	if c.Channels == 0 {
		return nil
	}

	want := []int{c.Channels, c.Channels, c.Kernel, c.Kernel}
	if c.Weight == nil || !slices.Equal(c.Weight.Shape(), want) {
		return fmt.Errorf("conv transpose weight: expected shape %v, got %v", want, shapeOf(c.Weight))
	}
	return nil
}

// Norm ist BatchNorm2D oder InstanceNorm; nil bedeutet keine Normalisierung
type Norm interface {
	Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor
}

func newNorm(kind string, channels int) Norm {
	switch kind {
	case "batch":
		return &BatchNorm2D{Channels: channels, Eps: 1e-5}
	case "instance":
		return &InstanceNorm{Eps: 1e-5}
	default:
		return nil
	}
}

// applyNorm ueberspringt fehlende Normalisierung
func applyNorm(ctx *ml.Context, n Norm, x *ml.Tensor) *ml.Tensor {
	if n == nil {
		return x
	}
	return n.Forward(ctx, x)
}

// BatchNorm2D im Inferenzmodus mit laufender Statistik
type BatchNorm2D struct {
	Weight      *ml.Tensor `weight:"weight,optional"`
	Bias        *ml.Tensor `weight:"bias,optional"`
	RunningMean *ml.Tensor `weight:"running_mean"`
	RunningVar  *ml.Tensor `weight:"running_var"`

	Channels int
	Eps      float32

	once         sync.Once
	scale, shift []float32
}

// Forward normalisiert x in place
func (bn *BatchNorm2D) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	bn.once.Do(func() {
		bn.scale, bn.shift = ml.FoldBatchNorm(bn.RunningMean, bn.RunningVar, bn.Weight, bn.Bias, bn.Eps)
	})
	return ctx.ScaleShift(x, bn.scale, bn.shift)
}

func (bn *BatchNorm2D) Validate() error {
	if bn.Channels == 0 {
		return nil
	}

	for name, t := range map[string]*ml.Tensor{"running_mean": bn.RunningMean, "running_var": bn.RunningVar, "weight": bn.Weight, "bias": bn.Bias} {
		if t != nil && t.Len() != bn.Channels {
			return fmt.Errorf("batch norm %s: expected %d values, got %d", name, bn.Channels, t.Len())
		}
	}
	return nil
}

// InstanceNorm ohne affine Parameter (PyTorch-Default)
type InstanceNorm struct {
	Eps float32
}

func (in *InstanceNorm) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	return ctx.InstanceNorm2D(x, in.Eps)
}

// Activation ist der Name einer elementweisen Aktivierung
type Activation string

func (a Activation) valid() bool {
	switch a {
	case "relu", "elu", "leaky_relu", "tanh", "sigmoid", "none", "":
		return true
	default:
		return false
	}
}

// Forward wendet die Aktivierung in place an
func (a Activation) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	switch a {
	case "relu":
		return ctx.ReLU(x)
	case "elu":
		return ctx.ELU(x)
	case "leaky_relu":
		return ctx.LeakyReLU(x, 0.2)
	case "tanh":
		return ctx.Tanh(x)
	case "sigmoid":
		return ctx.Sigmoid(x)
	default:
		return x
	}
}
