package cloud

import (
	"strconv"
	"strings"
	"time"
)

// maxNameLen fits S3 and GCS bucket names.
const maxNameLen = 63

// SanitizeName lower-cases name and replaces anything outside [a-z0-9-] with a dash.
func SanitizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			out = append(out, r)
			continue
		}
		out = append(out, '-')
	}
	cleaned := string(out)
	for strings.Contains(cleaned, "--") {
		cleaned = strings.ReplaceAll(cleaned, "--", "-")
	}
	return strings.Trim(cleaned, "-")
}

// NameSuffix is a short uniqueness suffix derived from now.
func NameSuffix(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36)
}

// UniqueName derives a globally unique resource name (bucket, service) from base.
func UniqueName(base string, now time.Time) string {
	base = SanitizeName(base)
	if base == "" {
		base = "app"
	}
	suffix := NameSuffix(now)
	if len(base)+1+len(suffix) > maxNameLen {
		base = strings.TrimRight(base[:maxNameLen-1-len(suffix)], "-")
	}
	return base + "-" + suffix
}

// StorageAccountName derives an Azure storage account name: 3-24 lowercase alphanumerics.
func StorageAccountName(base string, now time.Time) string {
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	suffix := NameSuffix(now)
	prefix := b.String()
	if prefix == "" {
		prefix = "site"
	}
	if room := 24 - len(suffix); len(prefix) > room {
		prefix = prefix[:room]
	}
	return prefix + suffix
}
