package storage

import (
	"context"
	"encoding/json"
	"time"

	"nova/internal/eventbus"
	logx "nova/pkg/logx"
)

// RecordEvents appends every event of the given families to the audit log
// until ctx is done. It blocks; run it in its own goroutine.
func RecordEvents(ctx context.Context, bus eventbus.Bus, st AuditStore, log logx.Logger, families ...string) error {
	if bus == nil || st == nil {
		return nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	want := map[string]bool{}
	for _, f := range families {
		want[f] = true
	}

	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if len(want) > 0 && !want[ev.Family()] {
				continue
			}
			detail := ""
			if ev.Data != nil {
				if b, err := json.Marshal(ev.Data); err == nil {
					detail = string(b)
				}
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := st.AppendAudit(wctx, AuditEntry{At: ev.Time, Type: ev.Type, ChatID: ev.ChatID, Detail: detail})
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}
