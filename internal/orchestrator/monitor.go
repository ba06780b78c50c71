package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartMonitor launches the background fleet monitor. It keeps the
// active-agent gauge current and warns when an agent approaches its
// context window limit.
func (o *Orchestrator) StartMonitor(ctx context.Context) {
	interval := time.Duration(o.cfg.Orchestrator.MonitorInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	o.monitorWG.Add(1)
	o.monitorOn.Store(true)
	go func() {
		defer o.monitorWG.Done()
		defer o.monitorOn.Store(false)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		o.logger.Info("fleet monitor started", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				o.logger.Info("fleet monitor stopped (context cancelled)")
				return
			case <-o.monitorStop:
				o.logger.Info("fleet monitor stopped")
				return
			case <-ticker.C:
				o.checkFleet()
			}
		}
	}()
}

// checkFleet runs one monitoring sweep.
func (o *Orchestrator) checkFleet() {
	active := o.registry.Active()
	o.collector.SetActiveAgents(len(active))

	warnRatio := o.cfg.Orchestrator.ContextWarningRatio
	if warnRatio <= 0 {
		warnRatio = 0.8
	}

	for _, sess := range active {
		usage := sess.ContextWindowUsage()
		if usage.Percent >= warnRatio*100 {
			o.logger.Warn("agent nearing context window limit",
				zap.String("agent_id", sess.ID()),
				zap.String("agent_name", sess.Name()),
				zap.Int64("used_tokens", usage.UsedTokens),
				zap.Int64("max_tokens", usage.MaxTokens),
				zap.Float64("percent", usage.Percent))
		}
	}
}
