// runner.go - Inferenz-Runner fuer einzelne Bild/Masken-Paare
//
// Enthaelt:
// - Options: Laufzeit-Optionen (Groesse, Merge, Ausgaben, Parallelitaet)
// - Runner: Bindet ein geladenes Modell an einen ml.Context
// - Inpaint: Tensoren erzeugen, Forward, zurueckwandeln, zusammenfuehren

package runner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/deepfusion/dfnet/imageproc"
	"github.com/deepfusion/dfnet/ml"
	"github.com/deepfusion/dfnet/model"
)

// Fehler-Definitionen
var (
	ErrMaskSize   = errors.New("mask size does not match image")
	ErrNoOutput   = errors.New("model returned no output")
	ErrBadOptions = errors.New("invalid runner options")
)

// Options steuert einen Inferenz-Lauf
type Options struct {
	// Size = 0 rechnet in Originalaufloesung (Replikations-Padding),
	// Size = N skaliert auf N x N und zurueck
	Size       int
	Merge      bool
	InvertMask bool
	SaveAlpha  bool
	SaveRaw    bool
	// Parallel ist die Anzahl gleichzeitig bearbeiteter Paare
	Parallel int
	// Threads begrenzt die Goroutinen pro Forward-Pass (0 = alle CPUs)
	Threads int
	Format  string
	Quality int
}

// DefaultOptions gibt die Standard-Optionen zurueck
func DefaultOptions() Options {
	return Options{
		Merge:    true,
		Parallel: 1,
		Format:   "png",
		Quality:  imageproc.DefaultQuality,
	}
}

// Validate prueft die Optionen
func (o Options) Validate() error {
	var errs []error
	if o.Size < 0 {
		errs = append(errs, fmt.Errorf("size %d is negative", o.Size))
	}
	if o.Parallel < 0 || o.Threads < 0 {
		errs = append(errs, fmt.Errorf("parallel %d / threads %d must not be negative", o.Parallel, o.Threads))
	}
	if o.Quality < 0 || o.Quality > 100 {
		errs = append(errs, fmt.Errorf("quality %d outside 0..100", o.Quality))
	}
	if f := o.format(); !f.Encodable() {
		errs = append(errs, fmt.Errorf("output format %q cannot be written", o.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrBadOptions, errors.Join(errs...))
	}
	return nil
}

func (o Options) format() imageproc.Format {
	if o.Format == "" {
		return imageproc.FormatPNG
	}
	return imageproc.FormatFromExtension(o.Format)
}

// Result ist das Ergebnis eines Paares
type Result struct {
	// Image ist die Ausgabe (zusammengefuehrt wenn Merge gesetzt ist)
	Image    *image.RGBA
	Raw      *image.RGBA
	Alpha    *image.RGBA
	Duration time.Duration
	Metrics  Metrics
}

// Runner fuehrt ein Modell auf Bildern aus
type Runner struct {
	model model.Model
	ctx   *ml.Context
	opts  Options
}

// New erstellt einen Runner fuer ein geladenes Modell
func New(m model.Model, opts Options) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Runner{
		model: m,
		ctx:   ml.NewContext(opts.Threads),
		opts:  opts,
	}, nil
}

// Model gibt das gebundene Modell zurueck
func (r *Runner) Model() model.Model {
	return r.model
}

// Options gibt die Optionen des Runners zurueck
func (r *Runner) Options() Options {
	return r.opts
}

// WithOptions gibt einen Runner mit anderen Optionen zurueck, Modell und Threads bleiben gleich
func (r *Runner) WithOptions(opts Options) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Runner{model: r.model, ctx: r.ctx, opts: opts}, nil
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}

// Inpaint fuellt die Loecher von img anhand von mask
func (r *Runner) Inpaint(ctx context.Context, img *imageproc.Image, mask *imageproc.Mask) (*Result, error) {
	if img.Width != mask.Width || img.Height != mask.Height {
		return nil, fmt.Errorf("%w: mask %dx%d, image %dx%d", ErrMaskSize, mask.Width, mask.Height, img.Width, img.Height)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	work, workMask := img, mask
	if r.opts.Size > 0 {
		var err error
		if work, err = img.Resize(r.opts.Size, r.opts.Size); err != nil {
			return nil, err
		}
		workMask = mask.Resize(r.opts.Size, r.opts.Size)
	}

	imgMiss, known, err := imageproc.ToTensor(r.ctx, work, workMask)
	if err != nil {
		return nil, err
	}

	h, w := work.Height, work.Width
	multiple := max(r.model.Multiple(), 1)
	padH, padW := roundUp(h, multiple)-h, roundUp(w, multiple)-w
	if padH > 0 || padW > 0 {
		imgMiss = r.ctx.PadReplicate(imgMiss, padH, padW)
		known = r.ctx.PadReplicate(known, padH, padW)
	}

	out, err := r.model.Forward(r.ctx, imgMiss, known)
	if err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, ErrNoOutput
	}

	predicted, err := r.toImage(out.Results[0], h, w, img)
	if err != nil {
		return nil, err
	}

	result := &Result{Image: predicted}
	if len(out.Raws) > 0 && out.Raws[0] != nil {
		if result.Raw, err = r.toImage(out.Raws[0], h, w, img); err != nil {
			return nil, err
		}
	}
	if len(out.Alphas) > 0 && out.Alphas[0] != nil {
		if result.Alpha, err = r.toImage(out.Alphas[0], h, w, img); err != nil {
			return nil, err
		}
	}

	if result.Metrics, err = Evaluate(predicted, img.RGBA, mask); err != nil {
		return nil, err
	}

	if r.opts.Merge {
		if result.Image, err = imageproc.Merge(img.RGBA, predicted, mask); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	slog.Debug("inpaint", "width", img.Width, "height", img.Height, "holes", result.Metrics.Holes, "duration", result.Duration)
	return result, nil
}

// toImage entfernt das Padding und bringt den Tensor auf die Originalgroesse
func (r *Runner) toImage(t *ml.Tensor, h, w int, original *imageproc.Image) (*image.RGBA, error) {
	if t.Dim(2) != h || t.Dim(3) != w {
		t = r.ctx.Crop(t, 0, 0, h, w)
	}

	rgba, err := imageproc.FromTensor(t)
	if err != nil {
		return nil, err
	}

	if w != original.Width || h != original.Height {
		resized, err := imageproc.NewImage(rgba, imageproc.FormatPNG).Resize(original.Width, original.Height)
		if err != nil {
			return nil, err
		}
		rgba = resized.RGBA
	}
	return rgba, nil
}
