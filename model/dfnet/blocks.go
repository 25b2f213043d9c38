// blocks.go - Zusammengesetzte Bloecke des DFNet
// Enthaelt ResNetBlock, EncodeBlock, UpBlock, DecodeBlock, BlendBlock und FusionBlock

package dfnet

import (
	"fmt"

	"github.com/deepfusion/dfnet/ml"
)

// Downsample ist der 1x1-Residualpfad (conv + norm) eines ResNetBlock
type Downsample struct {
	Conv *Conv2D `weight:"0"`
	Norm Norm    `weight:"1"`
}

// ResNetBlock: conv3x3 -> norm -> act -> conv3x3 -> norm, + Residual, act
type ResNetBlock struct {
	Conv1      *Conv2D     `weight:"conv1"`
	BN1        Norm        `weight:"bn1"`
	Conv2      *Conv2D     `weight:"conv2"`
	BN2        Norm        `weight:"bn2"`
	Downsample *Downsample `weight:"downsample"`

	Act Activation
}

func (b *ResNetBlock) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	out := b.Conv1.Forward(ctx, x)
	out = applyNorm(ctx, b.BN1, out)
	out = b.Act.Forward(ctx, out)

	out = b.Conv2.Forward(ctx, out)
	out = applyNorm(ctx, b.BN2, out)

	identity := x
	if b.Downsample != nil {
		identity = applyNorm(ctx, b.Downsample.Norm, b.Downsample.Conv.Forward(ctx, x))
	}

	out = ctx.Add(out, identity)
	return b.Act.Forward(ctx, out)
}

// EncodeBlock halbiert die Aufloesung ueber einen ResNetBlock mit Stride 2
type EncodeBlock struct {
	Block *ResNetBlock `weight:"block"`
}

func newEncodeBlock(in, out int, norm string, act Activation) *EncodeBlock {
	return &EncodeBlock{Block: &ResNetBlock{
		Conv1: &Conv2D{In: in, Out: out, Kernel: 3, Stride: 2, Padding: 1, Groups: 1},
		BN1:   newNorm(norm, out),
		Conv2: &Conv2D{In: out, Out: out, Kernel: 3, Stride: 1, Padding: 1, Groups: 1},
		BN2:   newNorm(norm, out),
		Downsample: &Downsample{
			Conv: &Conv2D{In: in, Out: out, Kernel: 1, Stride: 2, Groups: 1},
			Norm: newNorm(norm, out),
		},
		Act: act,
	}}
}

func (e *EncodeBlock) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	return e.Block.Forward(ctx, x)
}

// UpBlock verdoppelt die Aufloesung per Interpolation oder transponierter Faltung
type UpBlock struct {
	Deconv *ConvTranspose2D `weight:"up,optional"`

	Mode  string
	Scale int
}

func newUpBlock(mode string, scale, channels int) *UpBlock {
	u := &UpBlock{Mode: mode, Scale: scale}
	if mode == "deconv" {
		u.Deconv = &ConvTranspose2D{
			Channels:      channels,
			Kernel:        scale,
			Stride:        scale,
			Padding:       scale / 2,
			OutputPadding: scale - 1,
		}
	}
	return u
}

// Forward skaliert x auf (h, w); h und w sind Scale*H bzw. Scale*W
func (u *UpBlock) Forward(ctx *ml.Context, x *ml.Tensor, h, w int) *ml.Tensor {
	switch u.Mode {
	case "bilinear":
		return ctx.ResizeBilinear(x, h, w)
	case "deconv":
		out := u.Deconv.Forward(ctx, x)
		return fitTo(ctx, out, h, w)
	default:
		return ctx.UpsampleNearest(x, u.Scale)
	}
}

// fitTo gleicht eine Ausgabe per Replikations-Padding bzw. Zuschnitt an (h, w) an
func fitTo(ctx *ml.Context, x *ml.Tensor, h, w int) *ml.Tensor {
	xh, xw := x.Dim(2), x.Dim(3)
	if xh == h && xw == w {
		return x
	}
	if xh > h || xw > w {
		x = ctx.Crop(x, 0, 0, min(xh, h), min(xw, w))
		xh, xw = x.Dim(2), x.Dim(3)
	}
	return ctx.PadReplicate(x, h-xh, w-xw)
}

func (u *UpBlock) Validate() error {
	if u.Mode == "deconv" && u.Deconv == nil {
		return fmt.Errorf("mode deconv requires transposed convolution weights")
	}
	if u.Mode != "deconv" && u.Deconv != nil {
		return fmt.Errorf("checkpoint has transposed convolution weights but mode is %q", u.Mode)
	}
	return nil
}

// DecodeBlock: up -> concat skip -> DSConv -> norm -> act
type DecodeBlock struct {
	Up   *UpBlock                `weight:"up"`
	Conv *DepthwiseSeparableConv `weight:"decode.0"`
	Norm Norm                    `weight:"decode.1"`

	Act   Activation
	CUp   int
	CDown int
	COut  int
}

func newDecodeBlock(cUp, cDown, cOut int, mode string, kernel int, norm string, act Activation) *DecodeBlock {
	return &DecodeBlock{
		Up:    newUpBlock(mode, 2, cUp),
		Conv:  newDSConv(cUp+cDown, cOut, kernel, 1, kernel/2),
		Norm:  newNorm(norm, cOut),
		Act:   act,
		CUp:   cUp,
		CDown: cDown,
		COut:  cOut,
	}
}

// Forward erwartet skip mit der doppelten Aufloesung von x (oder nil bei CDown == 0)
func (d *DecodeBlock) Forward(ctx *ml.Context, x, skip *ml.Tensor) *ml.Tensor {
	h, w := 2*x.Dim(2), 2*x.Dim(3)
	if skip != nil {
		h, w = skip.Dim(2), skip.Dim(3)
	}

	out := d.Up.Forward(ctx, x, h, w)
	if d.CDown > 0 {
		out = ctx.Concat(out, skip)
	}
	out = d.Conv.Forward(ctx, out)
	out = applyNorm(ctx, d.Norm, out)
	return d.Act.Forward(ctx, out)
}

// BlendBlock schaetzt die Mischgewichte alpha aus Bild und Rohvorhersage
type BlendBlock struct {
	Conv1 *DepthwiseSeparableConv `weight:"blend.0"`
	BN1   *BatchNorm2D            `weight:"blend.1"`
	Conv2 *DepthwiseSeparableConv `weight:"blend.3"`
	BN2   *BatchNorm2D            `weight:"blend.4"`
	Conv3 *DepthwiseSeparableConv `weight:"blend.6"`
}

func newBlendBlock(in, out int) *BlendBlock {
	mid := max(in/2, 32)
	return &BlendBlock{
		Conv1: newDSConv(in, mid, 1, 1, 0),
		BN1:   &BatchNorm2D{Channels: mid, Eps: 1e-5},
		Conv2: newDSConv(mid, out, 3, 1, 1),
		BN2:   &BatchNorm2D{Channels: out, Eps: 1e-5},
		Conv3: newDSConv(out, out, 1, 1, 0),
	}
}

func (b *BlendBlock) Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor {
	x = ctx.LeakyReLU(b.BN1.Forward(ctx, b.Conv1.Forward(ctx, x)), 0.2)
	x = ctx.LeakyReLU(b.BN2.Forward(ctx, b.Conv2.Forward(ctx, x)), 0.2)
	return ctx.Sigmoid(b.Conv3.Forward(ctx, x))
}

// FusionBlock bildet Features auf RGB ab und mischt mit dem maskierten Bild:
// result = alpha*raw + (1-alpha)*img_miss
type FusionBlock struct {
	Map2Img *DepthwiseSeparableConv `weight:"map2img.0"`
	Blend   *BlendBlock             `weight:"blend"`
}

func newFusionBlock(cFeat, cImg, cAlpha int) *FusionBlock {
	return &FusionBlock{
		Map2Img: newDSConv(cFeat, cImg, 1, 1, 0),
		Blend:   newBlendBlock(2*cImg, cAlpha),
	}
}

func (f *FusionBlock) Forward(ctx *ml.Context, imgMiss, feat *ml.Tensor) (result, alpha, raw *ml.Tensor) {
	img := ctx.ResizeBilinear(imgMiss, feat.Dim(2), feat.Dim(3))
	raw = ctx.Sigmoid(f.Map2Img.Forward(ctx, feat))
	alpha = f.Blend.Forward(ctx, ctx.Concat(img, raw))
	result = ctx.Blend(alpha, raw, img)
	return result, alpha, raw
}
