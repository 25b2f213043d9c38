// Package dfnet implementiert das ResNet-DFNet (Deep Fusion Network) fuer Inpainting.
//
// Der Encoder besteht aus ResNet-Bloecken mit Stride 2, der Decoder skaliert
// schrittweise hoch und verbindet Skip-Features. Auf jeder geblendeten Ebene
// mischt ein FusionBlock die Rohvorhersage mit dem maskierten Eingabebild.
package dfnet

import (
	"errors"
	"fmt"
	"slices"

	"github.com/deepfusion/dfnet/ml"
	"github.com/deepfusion/dfnet/model"
)

// ErrInputSize wird zurueckgegeben wenn H oder W kein Vielfaches von Multiple() ist
var ErrInputSize = errors.New("input size must be a multiple of the model stride")

// Model ist das vollstaendige Netzwerk
type Model struct {
	model.Base

	Encoders []*EncodeBlock `weight:"en_%d"`
	// Decoder und Fusion sind nach Ebene j indiziert, j = 0 ist die feinste
	Decoders []*DecodeBlock `weight:"de_%d"`
	Fusions  []*FusionBlock `weight:"fuse_%d,optional"`

	cfg Config
}

func init() {
	model.Register(model.DefaultArchitecture, func(src model.WeightSource) (model.Model, error) {
		cfg, err := ResolveConfig(src)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// New baut die Modellstruktur fuer cfg ohne Gewichte
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Model{cfg: cfg}

	cIn := cfg.CImg + cfg.CMask
	ins := make([]int, len(cfg.EnChannels))
	for i, cOut := range cfg.EnChannels {
		ins[i] = cIn
		m.Encoders = append(m.Encoders, newEncodeBlock(cIn, cOut, cfg.Norm, Activation(cfg.ActEn)))
		cIn = cOut
	}

	n := len(cfg.DeKsize)
	m.Decoders = make([]*DecodeBlock, n)
	m.Fusions = make([]*FusionBlock, n)
	cUp := cfg.EnChannels[len(cfg.EnChannels)-1]
	for i, k := range cfg.DeKsize {
		// Ausgabe und Skip haben die Eingangskanaele des passenden Encoders
		cOut := ins[len(ins)-1-i]
		j := n - 1 - i

		m.Decoders[j] = newDecodeBlock(cUp, cOut, cOut, cfg.Mode, k, cfg.Norm, Activation(cfg.ActDe))
		if slices.Contains(cfg.BlendLayers, j) {
			m.Fusions[j] = newFusionBlock(cOut, cfg.CImg, cfg.CAlpha)
		}
		cUp = cOut
	}

	return m, nil
}

// Config gibt die aufgeloeste Konfiguration zurueck
func (m *Model) Config() any {
	return m.cfg
}

// Multiple gibt den Teiler fuer H und W zurueck
func (m *Model) Multiple() int {
	return m.cfg.Multiple()
}

// Validate prueft, dass die geladenen Fusions-Ebenen zur Konfiguration passen
func (m *Model) Validate() error {
	for j, f := range m.Fusions {
		if want := slices.Contains(m.cfg.BlendLayers, j); want != (f != nil) {
			return fmt.Errorf("fusion layer %d: configured %v, present in checkpoint %v", j, want, f != nil)
		}
	}
	return nil
}

// Forward berechnet alle Fusions-Ausgaben; imgMiss [N,3,H,W], known [N,1,H,W]
func (m *Model) Forward(ctx *ml.Context, imgMiss, known *ml.Tensor) (*model.Output, error) {
	if imgMiss.Dims() != 4 || known.Dims() != 4 {
		return nil, fmt.Errorf("%w: expected 4D inputs, got %v and %v", ml.ErrShape, imgMiss.Shape(), known.Shape())
	}
	if imgMiss.Dim(1) != m.cfg.CImg || known.Dim(1) != m.cfg.CMask {
		return nil, fmt.Errorf("%w: expected %d image and %d mask channels, got %v and %v", ml.ErrShape, m.cfg.CImg, m.cfg.CMask, imgMiss.Shape(), known.Shape())
	}
	if imgMiss.Dim(0) != known.Dim(0) || imgMiss.Dim(2) != known.Dim(2) || imgMiss.Dim(3) != known.Dim(3) {
		return nil, fmt.Errorf("%w: image %v and mask %v disagree", ml.ErrShape, imgMiss.Shape(), known.Shape())
	}

	h, w := imgMiss.Dim(2), imgMiss.Dim(3)
	if mult := m.Multiple(); h%mult != 0 || w%mult != 0 || h == 0 || w == 0 {
		return nil, fmt.Errorf("%w: %dx%d is not a multiple of %d", ErrInputSize, w, h, mult)
	}

	out := ctx.Concat(imgMiss, known)
	features := []*ml.Tensor{out}
	for _, e := range m.Encoders {
		out = e.Forward(ctx, out)
		features = append(features, out)
	}

	var o model.Output
	n := len(m.Decoders)
	for i := range n {
		j := n - 1 - i
		out = m.Decoders[j].Forward(ctx, out, features[len(features)-i-2])
		if f := m.Fusions[j]; f != nil {
			result, alpha, raw := f.Forward(ctx, imgMiss, out)
			o.Results = append(o.Results, result)
			o.Alphas = append(o.Alphas, alpha)
			o.Raws = append(o.Raws, raw)
		}
	}

	// feinste Ebene zuerst
	slices.Reverse(o.Results)
	slices.Reverse(o.Alphas)
	slices.Reverse(o.Raws)
	return &o, nil
}
