package app

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const devVersion = "dev"

var (
	// Version is set with -ldflags "-X github.com/skobkin/meshola/internal/app.Version=v1.2.3".
	Version = devVersion
	// BuildDate is set the same way, RFC 3339 or YYYY-MM-DD.
	BuildDate = ""
)

// BuildVersion returns the release version without a leading "v", or "dev".
func BuildVersion() string {
	raw := strings.TrimSpace(Version)
	if raw == "" {
		return devVersion
	}
	if canonical := semver.Canonical(ensureV(raw)); canonical != "" && !strings.Contains(raw, "+") {
		return strings.TrimPrefix(canonical, "v")
	}

	return raw
}

// IsReleaseBuild reports whether Version is a stable semantic version.
func IsReleaseBuild() bool {
	v := ensureV(strings.TrimSpace(Version))

	return semver.IsValid(v) && semver.Prerelease(v) == ""
}

func ensureV(raw string) string {
	if strings.HasPrefix(raw, "v") {
		return raw
	}

	return "v" + raw
}

func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC().Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		date := raw[:len(time.DateOnly)]
		if _, err := time.Parse(time.DateOnly, date); err == nil {
			return date
		}
	}

	return raw
}

func BuildVersionWithDate() string {
	version := BuildVersion()
	if buildDate := BuildDateYMD(); buildDate != "" {
		return fmt.Sprintf("%s (%s)", version, buildDate)
	}

	return version
}

// ClientName identifies this build to remote services.
func ClientName() string {
	return Name + "/" + BuildVersion()
}
