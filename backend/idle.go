package backend

import "time"

// IdleSeconds implements §4.4's idle accounting: seconds_idle = now -
// max(last_read, last_write).
func (c *Connection) IdleSeconds(now time.Time) float64 {
	last := c.lastRead
	if c.lastWrite.After(last) {
		last = c.lastWrite
	}
	if last.IsZero() {
		return 0
	}
	return now.Sub(last).Seconds()
}
