package templates

import (
	"fmt"
	"html/template"
	"path"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// GetTemplateFunc returns the template functions shared by the HTML reports
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": FormatDuration,
		"getStatusClass": func(c types.Classification) string {
			return getStatusString(c)
		},
		"getStatusText": func(c types.Classification) string {
			if c == "" {
				return "NOT RUN"
			}
			return string(c)
		},
		"artifactName": func(p string) string {
			return path.Base(p)
		},
		"percent": func(count, total int) string {
			if total == 0 {
				return "0.0%"
			}
			return fmt.Sprintf("%.1f%%", float64(count)*100/float64(total))
		},
		"lower": strings.ToLower,
		// Test URIs are file:// links, which html/template would otherwise filter
		"testURL": func(uri string) template.URL {
			return template.URL(uri)
		},
	}
}

// FormatDuration renders durations below a second in milliseconds
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// getStatusString returns a consistent lowercase CSS class for a classification
func getStatusString(c types.Classification) string {
	switch c {
	case types.ClassPass:
		return "pass"
	case types.ClassText, types.ClassFuzzyImage, types.ClassImage:
		return "fail"
	case types.ClassTimeout:
		return "timeout"
	case types.ClassCrash:
		return "crash"
	case types.ClassSkip:
		return "skip"
	default:
		return "unknown"
	}
}
