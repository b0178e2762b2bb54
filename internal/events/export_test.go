package events

import "time"

func SetRetryDelays(s *WebhookSink, delays ...time.Duration) {
	s.delays = delays
}
