package messages

// ─── Vietnamese ──────────────────────────────────────────────────────────────

const (
	NewAlertsTitleVI   = "Cảnh báo dịch bệnh mới!"
	NewAlertsBodyVI    = "Có %d báo cáo mới trong khu vực của bạn."
	NewAlertsBodyOneVI = "Có 1 báo cáo mới trong khu vực của bạn."
)
