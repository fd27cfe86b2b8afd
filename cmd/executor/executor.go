package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tokenexchange/src/app"
)

type Executor struct {
	Once bool
}

// Start runs the matching and reconciliation loop until interrupted.
func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	a, err := app.Open(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to start exchange services")
		return err
	}
	defer a.Close()

	if t.Once || config.Once {
		return a.Loop.RunOnce(ctx)
	}

	if err := a.Loop.StartLoop(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start loop")
		return err
	}

	return nil
}
