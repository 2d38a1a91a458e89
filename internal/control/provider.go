package control

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/eleven-am/vision-guide/internal/narration"
	"github.com/eleven-am/vision-guide/internal/scheduler"
	"github.com/eleven-am/vision-guide/internal/vision"
)

type Params struct {
	fx.In

	Scheduler *scheduler.Scheduler
	Analyzer  *vision.Analyzer
	Narration *narration.Queue
	Logger    *slog.Logger
	Lifecycle fx.Lifecycle
}

func ProvideHandler(p Params) *Handler {
	h := NewHandler(p.Scheduler, p.Analyzer, p.Narration, p.Logger.With("handler", "control"))
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			h.Close()
			return nil
		},
	})
	return h
}

var Module = fx.Options(
	fx.Provide(ProvideHandler),
)
