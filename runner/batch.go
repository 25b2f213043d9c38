// batch.go - Parallele Verarbeitung vieler Bild/Masken-Paare
//
// Enthaelt:
// - Progress: Fortschritt nach jedem fertigen Paar
// - RunBatch: begrenzt parallele Verarbeitung mit errgroup
// - Process: ein Paar laden, inpainten, speichern

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deepfusion/dfnet/imageproc"
)

// Progress beschreibt ein fertig bearbeitetes Paar
type Progress struct {
	Pair    imageproc.Pair
	Result  *Result
	Outputs []string
	Done    int
	Total   int
}

// OutputPaths gibt die Zieldateien eines Paares zurueck: Ergebnis, Alpha, Rohvorhersage
func (o Options) OutputPaths(outDir, name string) (image, alpha, raw string) {
	image = filepath.Join(outDir, name+o.format().Extension())
	alpha = filepath.Join(outDir, name+"_alpha.png")
	raw = filepath.Join(outDir, name+"_raw.png")
	return
}

// Process laedt ein Paar, fuehrt Inpaint aus und schreibt die Ausgaben nach outDir
func (r *Runner) Process(ctx context.Context, pair imageproc.Pair, outDir string) (*Result, []string, error) {
	img, err := imageproc.LoadImage(pair.ImagePath)
	if err != nil {
		return nil, nil, err
	}

	mask, err := imageproc.LoadMask(pair.MaskPath, r.opts.InvertMask)
	if err != nil {
		return nil, nil, err
	}
	if mask.Width != img.Width || mask.Height != img.Height {
		slog.Warn("mask size differs from image, resizing", "name", pair.Name,
			"mask", fmt.Sprintf("%dx%d", mask.Width, mask.Height),
			"image", fmt.Sprintf("%dx%d", img.Width, img.Height))
		mask = mask.Resize(img.Width, img.Height)
	}

	result, err := r.Inpaint(ctx, img, mask)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", pair.Name, err)
	}

	imagePath, alphaPath, rawPath := r.opts.OutputPaths(outDir, pair.Name)
	save := imageproc.SaveOptions{Quality: r.opts.Quality}

	if err := imageproc.Save(imagePath, result.Image, save); err != nil {
		return nil, nil, err
	}
	outputs := []string{imagePath}

	if r.opts.SaveAlpha && result.Alpha != nil {
		if err := imageproc.Save(alphaPath, result.Alpha, save); err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, alphaPath)
	}
	if r.opts.SaveRaw && result.Raw != nil {
		if err := imageproc.Save(rawPath, result.Raw, save); err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, rawPath)
	}

	return result, outputs, nil
}

// RunBatch bearbeitet alle Paare mit hoechstens Options.Parallel gleichzeitig.
// Der erste Fehler oder ein abgebrochener Kontext beendet den Lauf; fn wird serialisiert aufgerufen.
func (r *Runner) RunBatch(ctx context.Context, pairs []imageproc.Pair, outDir string, fn func(Progress)) error {
	start := time.Now()

	var mu sync.Mutex
	var done int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.opts.Parallel, 1))
	for _, pair := range pairs {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result, outputs, err := r.Process(gctx, pair, outDir)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			done++
			slog.Debug("pair done", "name", pair.Name, "done", done, "total", len(pairs), "duration", result.Duration)
			if fn != nil {
				fn(Progress{Pair: pair, Result: result, Outputs: outputs, Done: done, Total: len(pairs)})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	slog.Info("batch finished", "pairs", len(pairs), "output", outDir, "duration", time.Since(start))
	return nil
}
