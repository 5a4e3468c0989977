package goals

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/system"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

var _ system.Service = (*DeadlineSweeper)(nil)

// DeadlineSweeper periodically fails active goals whose deadline has passed.
// Transitions go through the state machine so the transition table and the
// value guard still apply.
type DeadlineSweeper struct {
	service  *Service
	schedule string
	log      *logger.Logger

	cron *cron.Cron
}

// NewDeadlineSweeper creates a sweeper on the given cron schedule.
func NewDeadlineSweeper(service *Service, schedule string, log *logger.Logger) *DeadlineSweeper {
	if schedule == "" {
		schedule = "@every 10m"
	}
	if log == nil {
		log = logger.NewDefault("deadline-sweeper")
	}
	return &DeadlineSweeper{
		service:  service,
		schedule: schedule,
		log:      log,
	}
}

func (d *DeadlineSweeper) Name() string { return "deadline-sweeper" }

func (d *DeadlineSweeper) Start(ctx context.Context) error {
	if d.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(d.schedule, func() { d.sweep(context.Background()) }); err != nil {
		return err
	}
	d.cron = c
	c.Start()
	d.log.WithField("schedule", d.schedule).Info("deadline sweeper started")
	return nil
}

func (d *DeadlineSweeper) Stop(ctx context.Context) error {
	if d.cron == nil {
		return nil
	}
	stopCtx := d.cron.Stop()
	d.cron = nil

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	d.log.Info("deadline sweeper stopped")
	return nil
}

func (d *DeadlineSweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	active, err := d.service.goals.ListGoalsByStatus(ctx, goal.StatusActive)
	if err != nil {
		d.log.WithError(err).Warn("deadline sweep failed")
		return
	}

	now := d.service.now()
	for _, g := range active {
		if g.Deadline.IsZero() || now.Before(g.Deadline) {
			continue
		}
		if _, err := d.service.UpdateStatus(ctx, g.ID, goal.StatusFailed); err != nil {
			d.log.WithError(err).WithField("goal_id", g.ID).Warn("fail overdue goal")
			continue
		}
		d.log.WithField("goal_id", g.ID).Info("overdue goal marked failed")
	}
}
