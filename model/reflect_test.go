package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/deepfusion/dfnet/fs"
	"github.com/deepfusion/dfnet/ml"
)

func TestParseTag(t *testing.T) {
	cases := []struct {
		value string
		want  Tag
	}{
		{"output", Tag{name: "output"}},
		{"output,alt:token_embd", Tag{name: "output", alternatives: []string{"token_embd"}}},
		{"bias,optional", Tag{name: "bias", optional: true}},
		{"en_%d,optional,alt:enc_%d", Tag{name: "en_%d", optional: true, alternatives: []string{"enc_%d"}}},
		{",alt:only", Tag{name: "only"}},
	}

	for _, tt := range cases {
		t.Run(tt.value, func(t *testing.T) {
			got := parseTag(tt.value)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(Tag{})); diff != "" {
				t.Errorf("ParseTags() returned unexpected values (-want +got):\n%s", diff)
			}
		})
	}
}

type conv struct {
	Weight *ml.Tensor `weight:"weight"`
	Bias   *ml.Tensor `weight:"bias,optional"`

	Channels int
}

func (c *conv) Validate() error {
	if c.Channels > 0 && c.Weight != nil && c.Weight.Dim(0) != c.Channels {
		return fmt.Errorf("expected %d channels, got %d", c.Channels, c.Weight.Dim(0))
	}
	return nil
}

type norm interface {
	isNorm()
}

type batchNorm struct {
	Mean *ml.Tensor `weight:"running_mean"`
}

func (*batchNorm) isNorm() {}

type block struct {
	Conv *conv `weight:"conv,alt:c"`
	Norm norm  `weight:"bn"`
	Skip *conv `weight:"skip,optional"`
}

type net struct {
	Base

	Blocks []*block `weight:"blk_%d"`
	Heads  []*conv  `weight:"head"`
	Extra  *conv    `weight:"extra,optional"`
}

func newNet() *net {
	return &net{
		Blocks: []*block{
			{Conv: &conv{Channels: 2}, Norm: &batchNorm{}},
			{Conv: &conv{Channels: 2}, Norm: &batchNorm{}},
		},
		Heads: []*conv{{Channels: 1}},
	}
}

func source(names ...string) *MapSource {
	src := NewMapSource()
	for _, name := range names {
		src.Set(name, ml.Zeros(2))
	}
	return src
}

func TestLoadModule(t *testing.T) {
	src := source("blk_0.conv.weight", "blk_0.conv.bias", "blk_0.bn.running_mean",
		"blk_1.c.weight", "blk_1.bn.running_mean", "blk_1.skip.weight")
	src.Set("head.0.weight", ml.Zeros(1, 4))

	n := newNet()
	require.NoError(t, LoadModule(n, src, ""))

	if n.Blocks[0].Conv.Bias == nil {
		t.Error("blk_0.conv.bias nicht geladen")
	}
	if n.Blocks[1].Conv.Bias != nil {
		t.Error("blk_1.conv.bias sollte nil sein")
	}
	if n.Blocks[1].Conv.Weight == nil {
		t.Error("Alternative blk_1.c.weight nicht verwendet")
	}
	if n.Blocks[0].Norm.(*batchNorm).Mean == nil {
		t.Error("Interface-Feld bn nicht befuellt")
	}
	if n.Blocks[0].Skip != nil {
		t.Error("optionaler Block ohne Tensoren sollte nil sein")
	}
	if n.Blocks[1].Skip == nil || n.Blocks[1].Skip.Weight == nil {
		t.Error("optionaler Block blk_1.skip nicht geladen")
	}
	if n.Extra != nil {
		t.Error("extra sollte nil sein")
	}
	if n.Heads[0].Weight == nil {
		t.Error("head.0.weight nicht geladen")
	}
}

func TestLoadModuleErrors(t *testing.T) {
	// blk_1 fehlt komplett, head hat die falsche Form
	src := source("blk_0.conv.weight", "blk_0.bn.running_mean")
	src.Set("head.0.weight", ml.Zeros(3, 4))

	err := LoadModule(newNet(), src, "")
	if !errors.Is(err, fs.ErrTensorNotFound) {
		t.Fatalf("erwartet ErrTensorNotFound, erhalten %v", err)
	}

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	if n := len(joined.Unwrap()); n != 3 {
		t.Errorf("erwartet 3 Fehler (2 fehlend, 1 Validierung), erhalten %d: %v", n, err)
	}
}

func TestLoadModulePrefix(t *testing.T) {
	src := source("decoder.weight")
	c := &conv{Channels: 2}
	require.NoError(t, LoadModule(c, src, "decoder"))
	if c.Weight == nil {
		t.Error("decoder.weight nicht geladen")
	}

	if err := LoadModule(conv{}, src, ""); err == nil {
		t.Error("erwartet Fehler fuer Nicht-Zeiger")
	}
}

func TestSetBase(t *testing.T) {
	n := newNet()
	setBase(n, Base{info: Info{Architecture: "test", Params: 7}})
	if got := n.Info(); got.Architecture != "test" || got.Params != 7 {
		t.Errorf("Base nicht gesetzt: %+v", got)
	}
}
