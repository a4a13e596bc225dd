package usecase

import "time"

const (
	// maxReconnectAttempts bounds retries after abnormal closes; the
	// attempt after the budget is exhausted becomes a terminal error.
	maxReconnectAttempts = 3

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 5 * time.Second
)

// backoffDelay returns the wait before reconnect attempt n (1-based):
// 1s, 2s, 4s, capped at 5s.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := reconnectBaseDelay << (attempt - 1)
	if delay > reconnectMaxDelay || delay <= 0 {
		delay = reconnectMaxDelay
	}
	return delay
}
