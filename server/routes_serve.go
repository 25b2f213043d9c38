// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Modell laden, HTTP-Server starten, auf Signale reagieren

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepfusion/dfnet/envconfig"
	"github.com/deepfusion/dfnet/format"
	"github.com/deepfusion/dfnet/logutil"
	"github.com/deepfusion/dfnet/model"
	"github.com/deepfusion/dfnet/runner"
	"github.com/deepfusion/dfnet/version"

	_ "github.com/deepfusion/dfnet/model/models"
)

// errLoadTimeout wird zurueckgegeben wenn der Checkpoint nicht rechtzeitig geladen ist
var errLoadTimeout = errors.New("timed out waiting for checkpoint to load")

// loadModel laedt den Checkpoint und bricht nach timeout ab
func loadModel(path string, timeout time.Duration) (model.Model, error) {
	type loaded struct {
		m   model.Model
		err error
	}

	ch := make(chan loaded, 1)
	go func() {
		m, err := model.New(path)
		ch <- loaded{m, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l := <-ch:
		return l.m, l.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", errLoadTimeout, path, format.HumanDuration(timeout))
	}
}

// Serve laedt modelPath und bedient HTTP-Anfragen auf ln bis SIGINT/SIGTERM
func Serve(ln net.Listener, modelPath string) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	m, err := loadModel(modelPath, envconfig.LoadTimeout())
	if err != nil {
		return err
	}

	opts := runner.DefaultOptions()
	opts.Threads = int(envconfig.NumThreads())
	r, err := runner.New(m, opts)
	if err != nil {
		return err
	}

	s := NewServer(r, ln.Addr())
	h, err := s.GenerateRoutes()
	if err != nil {
		return err
	}

	ctx, done := context.WithCancel(context.Background())
	srvr := &http.Server{Handler: h}

	// auf ctrl+c warten
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		slog.Info("shutting down")
		srvr.Close()
		done()
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	slog.Info("model ready", "architecture", m.Info().Architecture, "parameters", format.HumanNumber(m.Info().Params), "parallel", envconfig.NumParallel(), "threads", r.Options().Threads)

	err = srvr.Serve(ln)
	// If server is closed from the signal handler, wait for the ctx to be done
	// otherwise error out quickly
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}
