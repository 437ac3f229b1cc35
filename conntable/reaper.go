// File: conntable/reaper.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package conntable

import "time"

// reapLoop periodically closes connections idle for longer than
// ConnExpireTime.
func (t *Table) reapLoop() error {
	ticker := time.NewTicker(t.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.reaperStop:
			return nil
		case now := <-ticker.C:
			if n := t.reapIdle(now); n > 0 {
				t.log.Debug().Int("reaped", n).Msg("idle connections closed")
			}
		}
	}
}

// reapIdle removes every connection last accessed before now-ConnExpireTime.
func (t *Table) reapIdle(now time.Time) int {
	cutoff := now.Add(-t.cfg.ConnExpireTime)
	t.mu.Lock()
	var idle []*Connection
	for _, c := range t.conns {
		if c.LastAccessed().Before(cutoff) {
			idle = append(idle, c)
			t.deleteLocked(c)
		}
	}
	t.mu.Unlock()
	for _, c := range idle {
		c.destroy()
		t.notifyClosed(c.peer)
	}
	return len(idle)
}
