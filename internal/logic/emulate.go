package logic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/device"
)

const shutdownTimeout = 5 * time.Second

// Emulate serves the bridge protocol on addr, backed by the soft device, until ctx ends.
func Emulate(ctx context.Context, env Env, cfg *config.Config, addr string) error {
	opts, err := cfg.DeviceOptions()
	if err != nil {
		return err
	}

	opts.Kind = device.KindSoft

	session, err := device.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer session.Close()

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", addr, err)
	}

	server := &http.Server{
		Handler:           device.NewEmulator(session).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	env.Log.WithFields(logrus.Fields{"component": "emulator", "addr": listener.Addr().String()}).Info("serving")

	errs := make(chan error, 1)

	go func() { errs <- server.Serve(listener) }()

	select {
	case err := <-errs:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down: %w", err)
	}

	return nil
}
