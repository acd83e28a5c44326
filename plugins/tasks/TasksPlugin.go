package tasks

import (
	"log/slog"

	"github.com/timsiem/timsiem/pkg/timsiem"
	"go.uber.org/dig"
)

var Plugin = timsiem.Plugin{
	Name: "@timsiem/tasks",
	Provide: func(c *dig.Container, logger *slog.Logger) error {
		err := c.Provide(NewDeleteOldRunsTask, dig.Group("tasks"))
		if err != nil {
			return err
		}
		err = c.Provide(NewSyncIndicatorsTask, dig.Group("tasks"))
		if err != nil {
			return err
		}
		return nil
	},
}
