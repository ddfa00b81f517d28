package messages

import (
	"fmt"
	"strings"
)

// Supported locales. Anything else falls back to English.
const (
	LocaleEN = "en"
	LocaleVI = "vi"
)

type catalogue struct {
	newAlertsTitle   string
	newAlertsBody    string
	newAlertsBodyOne string
}

var catalogues = map[string]catalogue{
	LocaleEN: {NewAlertsTitleEN, NewAlertsBodyEN, NewAlertsBodyOneEN},
	LocaleVI: {NewAlertsTitleVI, NewAlertsBodyVI, NewAlertsBodyOneVI},
}

// NormalizeLocale reduces an Accept-Language style value ("vi-VN,vi;q=0.9")
// to a supported locale key.
func NormalizeLocale(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(tag, ",;"); i >= 0 {
		tag = tag[:i]
	}
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	if _, ok := catalogues[tag]; ok {
		return tag
	}
	return LocaleEN
}

// ─── Alert builders ──────────────────────────────────────────────────────────

// NewAlerts returns the toast title and body announcing count new reports.
func NewAlerts(locale string, count int) (string, string) {
	c := catalogues[NormalizeLocale(locale)]
	if count == 1 {
		return c.newAlertsTitle, c.newAlertsBodyOne
	}
	return c.newAlertsTitle, fmt.Sprintf(c.newAlertsBody, count)
}
