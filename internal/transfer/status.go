package transfer

// Status is a single-byte lifecycle code emitted on the control channel.
// Statuses are one-shot, edge-triggered notifications, not a polled state.
type Status byte

const (
	StatusStarted              Status = 0x01
	StatusComplete             Status = 0x02
	StatusStoppedByHost        Status = 0x03
	StatusFileOpenFailed       Status = 0x04
	StatusNotifyFailed         Status = 0x05
	StatusBadCommand           Status = 0x06
	StatusAlreadyRunning       Status = 0x07
	StatusBusy                 Status = 0x08
	StatusNoConnection         Status = 0x09
	StatusSubscriptionRequired Status = 0x0A
	StatusNoFile               Status = 0x0B
	StatusReadFailed           Status = 0x0C
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusComplete:
		return "complete"
	case StatusStoppedByHost:
		return "stopped_by_host"
	case StatusFileOpenFailed:
		return "file_open_failed"
	case StatusNotifyFailed:
		return "notify_failed"
	case StatusBadCommand:
		return "bad_command"
	case StatusAlreadyRunning:
		return "already_running"
	case StatusBusy:
		return "busy"
	case StatusNoConnection:
		return "no_connection"
	case StatusSubscriptionRequired:
		return "subscription_required"
	case StatusNoFile:
		return "no_file"
	case StatusReadFailed:
		return "read_failed"
	default:
		return "unknown"
	}
}
