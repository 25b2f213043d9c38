// config.go - Konfiguration des ResNet-DFNet
//
// Dieses Modul enthaelt:
// - Config: Hyperparameter wie beim Training (JSON unter "dfnet.config")
// - ParseConfig, Validate: Laden und Pruefen
// - InferConfig: Rekonstruktion aus Tensor-Formen fuer Checkpoints ohne Metadaten
// - ResolveConfig: Metadaten, dann Inferenz, dann Defaults
package dfnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/deepfusion/dfnet/model"
)

// ConfigKey ist der Metadaten-Schluessel der Konfiguration im Safetensors-Header
const ConfigKey = "dfnet.config"

// ErrInvalidConfig wird bei inkonsistenter Konfiguration zurueckgegeben
var ErrInvalidConfig = errors.New("invalid dfnet config")

// Config beschreibt die Netzwerk-Topologie
type Config struct {
	CImg        int    `json:"c_img"`
	CMask       int    `json:"c_mask"`
	CAlpha      int    `json:"c_alpha"`
	Mode        string `json:"mode"`
	Norm        string `json:"norm"`
	ActEn       string `json:"act_en"`
	ActDe       string `json:"act_de"`
	EnChannels  []int  `json:"en_channels"`
	DeKsize     []int  `json:"de_ksize"`
	BlendLayers []int  `json:"blend_layers"`
}

// DefaultConfig entspricht den Standardwerten des vortrainierten Netzes
func DefaultConfig() Config {
	return Config{
		CImg:        3,
		CMask:       1,
		CAlpha:      3,
		Mode:        "nearest",
		Norm:        "batch",
		ActEn:       "relu",
		ActDe:       "leaky_relu",
		EnChannels:  []int{64, 128, 256, 512},
		DeKsize:     []int{3, 3, 3, 3},
		BlendLayers: []int{0, 1, 2, 3},
	}
}

// ParseConfig liest JSON; fehlende Felder behalten ihre Defaults
func ParseConfig(b []byte) (Config, error) {
	c := DefaultConfig()
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c, c.Validate()
}

// Multiple ist der Teiler fuer Hoehe und Breite der Eingabe (2^Encoder-Stufen)
func (c Config) Multiple() int {
	return 1 << len(c.EnChannels)
}

// Validate prueft die Konfiguration
func (c Config) Validate() error {
	var errs []error
	if c.CImg != 3 {
		errs = append(errs, fmt.Errorf("c_img must be 3, got %d", c.CImg))
	}
	if c.CMask != 1 {
		errs = append(errs, fmt.Errorf("c_mask must be 1, got %d", c.CMask))
	}
	if c.CAlpha != 1 && c.CAlpha != 3 {
		errs = append(errs, fmt.Errorf("c_alpha must be 1 or 3, got %d", c.CAlpha))
	}
	if !slices.Contains([]string{"nearest", "bilinear", "deconv"}, c.Mode) {
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if !slices.Contains([]string{"batch", "instance", "none"}, c.Norm) {
		errs = append(errs, fmt.Errorf("unknown norm %q", c.Norm))
	}
	for _, a := range []string{c.ActEn, c.ActDe} {
		if !Activation(a).valid() {
			errs = append(errs, fmt.Errorf("unknown activation %q", a))
		}
	}
	if len(c.EnChannels) == 0 {
		errs = append(errs, errors.New("en_channels is empty"))
	}
	if len(c.EnChannels) != len(c.DeKsize) {
		errs = append(errs, fmt.Errorf("en_channels (%d) and de_ksize (%d) differ in length", len(c.EnChannels), len(c.DeKsize)))
	}
	for _, ch := range c.EnChannels {
		if ch <= 0 {
			errs = append(errs, fmt.Errorf("invalid channel count %d", ch))
		}
	}
	for _, k := range c.DeKsize {
		if k <= 0 || k%2 == 0 {
			errs = append(errs, fmt.Errorf("decoder kernel size must be odd and positive, got %d", k))
		}
	}
	if !slices.Contains(c.BlendLayers, 0) {
		errs = append(errs, errors.New("layer 0 must be blended"))
	}
	for _, l := range c.BlendLayers {
		if l < 0 || l >= len(c.DeKsize) {
			errs = append(errs, fmt.Errorf("blend layer %d out of range", l))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ResolveConfig bestimmt die Konfiguration: Metadaten, dann Tensor-Formen, dann Defaults
func ResolveConfig(src model.WeightSource) (Config, error) {
	if raw, ok := src.Metadata()[ConfigKey]; ok {
		slog.Debug("dfnet config from checkpoint metadata")
		return ParseConfig([]byte(raw))
	}

	c, err := InferConfig(src)
	if errors.Is(err, errNoEncoder) {
		slog.Warn("could not infer dfnet config from checkpoint, using defaults")
		return DefaultConfig(), nil
	} else if err != nil {
		return Config{}, err
	}

	slog.Debug("dfnet config inferred from tensor shapes", "en_channels", c.EnChannels, "de_ksize", c.DeKsize, "blend_layers", c.BlendLayers, "mode", c.Mode, "norm", c.Norm)
	return c, c.Validate()
}

var errNoEncoder = errors.New("no encoder tensors")

// InferConfig rekonstruiert die Topologie aus den Tensor-Formen.
// Aktivierungen lassen sich nicht ablesen und bleiben auf den Defaults,
// ebenso "nearest" gegenueber "bilinear".
func InferConfig(src model.WeightSource) (Config, error) {
	c := DefaultConfig()
	c.EnChannels = nil
	c.DeKsize = nil
	c.BlendLayers = nil

	for i := 0; ; i++ {
		info, err := src.Info(fmt.Sprintf("en_%d.block.conv1.weight", i))
		if err != nil {
			break
		}
		if len(info.Shape) != 4 {
			return Config{}, fmt.Errorf("%w: %s has shape %v", ErrInvalidConfig, info.Name, info.Shape)
		}
		if i == 0 {
			c.CMask = info.Shape[1] - c.CImg
		}
		c.EnChannels = append(c.EnChannels, info.Shape[0])
	}
	if len(c.EnChannels) == 0 {
		return Config{}, errNoEncoder
	}

	n := len(c.EnChannels)
	c.DeKsize = make([]int, n)
	for j := range n {
		info, err := src.Info(fmt.Sprintf("de_%d.decode.0.depthwise.weight", j))
		if err != nil {
			return Config{}, fmt.Errorf("%w: decoder %d: %w", ErrInvalidConfig, j, err)
		}
		if len(info.Shape) != 4 {
			return Config{}, fmt.Errorf("%w: %s has shape %v", ErrInvalidConfig, info.Name, info.Shape)
		}
		// de_j gehoert zum Dekodierschritt n-1-j
		c.DeKsize[n-1-j] = info.Shape[2]

		if _, err := src.Info(fmt.Sprintf("fuse_%d.map2img.0.depthwise.weight", j)); err == nil {
			c.BlendLayers = append(c.BlendLayers, j)
		}
	}

	if info, err := src.Info("fuse_0.blend.blend.6.pointwise.weight"); err == nil && len(info.Shape) > 0 {
		c.CAlpha = info.Shape[0]
	}

	if _, err := src.Info("de_0.up.up.weight"); err == nil {
		c.Mode = "deconv"
	}

	// InstanceNorm hat keine Parameter, fehlende BatchNorm-Statistik bedeutet daher instance
	if _, err := src.Info("en_0.block.bn1.running_mean"); err != nil {
		c.Norm = "instance"
	}

	return c, nil
}
