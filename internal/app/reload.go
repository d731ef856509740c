package app

import (
	"context"
	"strings"
	"time"

	"nova/internal/config"
	"nova/internal/eventbus"
	"nova/internal/task/scheduler"
	logx "nova/pkg/logx"
)

// reloadLoop applies published configs until ctx is done. Bursts coalesce
// to the newest config.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, cfg)
			last = cfg
		}
	}
}

// apply pushes the live-reloadable sections of cfg into running components.
func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := restartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(rr, ",")))
	}
	if prev != nil && prev.Telegram.Token != cfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required")
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	if plCfg, err := mapPlannerConfig(cfg); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else if err := a.planner.Apply(plCfg); err != nil {
		a.log.Warn("planner rejected schedule config", logx.Err(err))
	} else {
		engCfg, _ := mapEngineConfig(cfg)
		a.sched.Apply(scheduler.Config{Timezone: plCfg.Window.Location.String(), Timeout: engCfg.DefaultTimeout})
	}

	if engCfg, err := mapEngineConfig(cfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}

	if oc, err := mapOpsConfig(cfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})

	// New window or prompt times take effect at each chat's next resync;
	// rebuild now so today's jobs match.
	if contains(sections, "schedule") {
		n, err := a.planner.ResyncAll(ctx)
		if err != nil && ctx.Err() == nil {
			a.log.Warn("resync after reload incomplete", logx.Int("synced", n), logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
