// cmd_run.go - Batch-Inpainting ueber Verzeichnisse oder Einzeldateien
// Hauptfunktionen: RunHandler, runOptions, runLocal, runRemote
package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deepfusion/dfnet/api"
	"github.com/deepfusion/dfnet/envconfig"
	"github.com/deepfusion/dfnet/format"
	"github.com/deepfusion/dfnet/imageproc"
	"github.com/deepfusion/dfnet/logutil"
	"github.com/deepfusion/dfnet/model"
	_ "github.com/deepfusion/dfnet/model/models"
	"github.com/deepfusion/dfnet/runner"
)

var errNoModel = errors.New("no model given, use --model or set DFNET_MODEL")

// runOptions - Liest die Runner-Optionen aus den Flags
func runOptions(cmd *cobra.Command) (runner.Options, error) {
	opts := runner.DefaultOptions()
	flags := cmd.Flags()

	var err error
	getInt := func(name string) int {
		v, e := flags.GetInt(name)
		err = cmp.Or(err, e)
		return v
	}
	getBool := func(name string) bool {
		v, e := flags.GetBool(name)
		err = cmp.Or(err, e)
		return v
	}

	opts.Size = getInt("size")
	opts.Parallel = getInt("parallel")
	opts.Threads = getInt("threads")
	opts.Quality = getInt("quality")
	opts.Merge = getBool("merge")
	opts.InvertMask = getBool("invert-mask")
	opts.SaveAlpha = getBool("save-alpha")
	opts.SaveRaw = getBool("save-raw")
	opts.Format, _ = flags.GetString("format")
	if err != nil {
		return opts, err
	}

	opts.Format = strings.TrimPrefix(strings.ToLower(opts.Format), ".")
	return opts, opts.Validate()
}

// RunHandler - Fuehrt Inpainting fuer alle Bild/Masken-Paare aus
func RunHandler(cmd *cobra.Command, args []string) error {
	opts, err := runOptions(cmd)
	if err != nil {
		return err
	}

	pairs, err := imageproc.Pairs(args[0], args[1])
	if err != nil {
		return err
	}
	outDir := args[2]

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))

	remote, _ := cmd.Flags().GetBool("remote")
	verbose, _ := cmd.Flags().GetBool("verbose")

	start := time.Now()
	var rows []runRow
	if remote {
		rows, err = runRemote(ctx, cmd, pairs, outDir, opts)
	} else {
		modelPath, _ := cmd.Flags().GetString("model")
		rows, err = runLocal(ctx, cmd, cmp.Or(modelPath, envconfig.Model()), pairs, outDir, opts)
	}
	if err != nil {
		return err
	}

	if verbose {
		slices.SortFunc(rows, func(a, b runRow) int { return strings.Compare(a.name, b.name) })
		renderRunTable(cmd.OutOrStdout(), rows)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "inpainted %d image(s) in %s, results in %s\n", len(rows), format.HumanDuration(time.Since(start)), outDir)
	return nil
}

// runLocal - Laedt das Modell und bearbeitet die Paare im eigenen Prozess
func runLocal(ctx context.Context, cmd *cobra.Command, modelPath string, pairs []imageproc.Pair, outDir string, opts runner.Options) ([]runRow, error) {
	if modelPath == "" {
		return nil, errNoModel
	}

	m, err := model.New(modelPath)
	if err != nil {
		return nil, err
	}

	r, err := runner.New(m, opts)
	if err != nil {
		return nil, err
	}

	display := newProgressDisplay(cmd.ErrOrStderr(), len(pairs))
	defer display.finish()

	rows := make([]runRow, 0, len(pairs))
	err = r.RunBatch(ctx, pairs, outDir, func(p runner.Progress) {
		display.update(p.Done, p.Pair.Name)
		b := p.Result.Image.Bounds()
		rows = append(rows, runRow{
			name:     p.Pair.Name,
			width:    b.Dx(),
			height:   b.Dy(),
			holes:    p.Result.Metrics.Holes,
			duration: p.Result.Duration,
			l1:       p.Result.Metrics.MaskedL1,
			psnr:     p.Result.Metrics.PSNR,
			metrics:  true,
		})
	})
	return rows, err
}

// runRemote - Schickt die Paare an einen laufenden Server
func runRemote(ctx context.Context, cmd *cobra.Command, pairs []imageproc.Pair, outDir string, opts runner.Options) ([]runRow, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	if err := checkServerHeartbeat(cmd, client); err != nil {
		return nil, err
	}

	display := newProgressDisplay(cmd.ErrOrStderr(), len(pairs))
	defer display.finish()

	var mu sync.Mutex
	rows := make([]runRow, 0, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallel, 1))
	for _, pair := range pairs {
		g.Go(func() error {
			row, err := inpaintRemote(gctx, client, pair, outDir, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", pair.Name, err)
			}

			mu.Lock()
			defer mu.Unlock()
			rows = append(rows, row)
			display.update(len(rows), pair.Name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, ctx.Err()
}

func inpaintRemote(ctx context.Context, client *api.Client, pair imageproc.Pair, outDir string, opts runner.Options) (runRow, error) {
	img, err := os.ReadFile(pair.ImagePath)
	if err != nil {
		return runRow{}, err
	}
	mask, err := os.ReadFile(pair.MaskPath)
	if err != nil {
		return runRow{}, err
	}

	resp, err := client.Inpaint(ctx, &api.InpaintRequest{
		Image:      img,
		Mask:       mask,
		Merge:      &opts.Merge,
		InvertMask: opts.InvertMask,
		Size:       opts.Size,
		Format:     opts.Format,
		Quality:    opts.Quality,
		Alpha:      opts.SaveAlpha,
		Raw:        opts.SaveRaw,
	})
	if err != nil {
		return runRow{}, err
	}

	imagePath, alphaPath, rawPath := opts.OutputPaths(outDir, pair.Name)
	for path, data := range map[string][]byte{imagePath: resp.Image, alphaPath: resp.Alpha, rawPath: resp.Raw} {
		if len(data) == 0 {
			continue
		}
		if err := writeFile(path, data); err != nil {
			return runRow{}, err
		}
	}

	return runRow{
		name:     pair.Name,
		width:    resp.Width,
		height:   resp.Height,
		holes:    resp.Holes,
		duration: resp.TotalDuration,
	}, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
