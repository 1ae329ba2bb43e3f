package chat

import "time"

// now is the store clock. Millisecond precision keeps timestamps identical across
// every supported database after a round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
