// Package clock implements the pure wall-clock to queue-time mapping a
// Broadcaster uses to decide when an entry is due. It has no I/O and no
// dependency on the store; every other component treats a Clock as a value.
package clock

import "time"

// jitterThreshold is the smallest shift worth honoring; smaller shifts are
// clamped to zero so that a start_time of "approximately now" behaves as
// exactly "now" instead of introducing sub-10s jitter into every wait.
const jitterThreshold = 10 * time.Second

// Clock maps wall-clock instants to queue-time, given a queue's start_time
// and speed. It is constructed once per Broadcaster generation and replaced
// wholesale on reset; it never mutates in place.
type Clock struct {
	startTime time.Time
	speed     float64
	shift     time.Duration
}

// New builds a Clock for the given start_time and speed, evaluating the
// shift against the current wall-clock instant. A zero startTime is treated
// as "now" and yields a zero shift.
func New(startTime time.Time, speed float64) Clock {
	return newAt(startTime, speed, time.Now())
}

// newAt is the testable constructor: it takes the "now" to compute shift
// against explicitly, so tests don't need to race a real clock.
func newAt(startTime time.Time, speed float64, now time.Time) Clock {
	if startTime.IsZero() {
		startTime = now
	}
	if speed <= 0 {
		speed = 1
	}
	shift := now.Sub(startTime)
	if shift < jitterThreshold && shift > -jitterThreshold {
		shift = 0
	}
	return Clock{startTime: startTime, speed: speed, shift: shift}
}

// StartTime returns the queue-time origin this clock was built with.
func (c Clock) StartTime() time.Time { return c.startTime }

// Speed returns the configured warp multiplier.
func (c Clock) Speed() float64 { return c.speed }

// QueueNow returns the current instant in queue-time.
func (c Clock) QueueNow() time.Time {
	return c.queueNowAt(time.Now())
}

func (c Clock) queueNowAt(nowWall time.Time) time.Time {
	elapsed := nowWall.Sub(c.startTime) - c.shift
	scaled := time.Duration(float64(elapsed) * c.speed)
	return c.startTime.Add(scaled)
}

// WaitFor returns the real (wall-clock) duration to sleep before the given
// queue-time deadline is due. A negative result means the deadline has
// already passed.
func (c Clock) WaitFor(deadlineQueue time.Time) time.Duration {
	queueRemaining := deadlineQueue.Sub(c.QueueNow())
	return time.Duration(float64(queueRemaining) / c.speed)
}

// ScoreToTime converts a float64 score (seconds since epoch, the
// representation sset_bpop_min and sset_zrangebyscore use) to a time.Time.
func ScoreToTime(score float64) time.Time {
	sec := int64(score)
	nsec := int64((score - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// TimeToScore converts a time.Time to the float64 score representation.
func TimeToScore(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
