package messages

// ─── English ─────────────────────────────────────────────────────────────────

const (
	NewAlertsTitleEN   = "New Disease Alert!"
	NewAlertsBodyEN    = "There are %d new reports in your area."
	NewAlertsBodyOneEN = "There is 1 new report in your area."
)
