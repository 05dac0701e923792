package taskname

const (
	// Link tasks
	LinkIncrementClicks      = "link:increment_clicks"
	LinkIncrementConversions = "link:increment_conversions"
	LinkHealthSweep          = "link:health_sweep"

	// Notification tasks
	NotifySend = "notify:send"
)
