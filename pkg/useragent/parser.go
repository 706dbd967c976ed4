package useragent

import (
	"regexp"
	"strings"
)

// DeviceType classifies the requesting hardware.
type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeUnknown DeviceType = "unknown"
)

// Browser holds the detected client name and version.
type Browser struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Major   string `json:"major"`
}

// OS holds the detected operating system name and version.
type OS struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Engine holds the detected rendering engine.
type Engine struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ParsedUA is the result of parsing a raw client-identification string.
type ParsedUA struct {
	Raw     string     `json:"raw"`
	Browser Browser    `json:"browser"`
	OS      OS         `json:"os"`
	Device  DeviceType `json:"device"`
	Engine  Engine     `json:"engine"`

	// NativeApp is true when the string matched the structured
	// AppName/Version (Platform;Token) template.
	NativeApp bool `json:"native_app"`

	// AppToken is the token embedded in the native-app template, usually a
	// device-instance identifier.
	AppToken string `json:"app_token,omitempty"`
}

// nativeAppPattern matches the structured native-app client template:
// AppName/Version (Platform;Token), e.g. "AcmeID/2.4.1 (iOS;9F3A...)".
var nativeAppPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_.-]*)/([0-9][0-9A-Za-z.+-]*)\s*\(([^;)]+);\s*([^)]*)\)`)

type signature struct {
	marker  string
	name    string
	version *regexp.Regexp
}

// Browser signatures in detection order. Edge and Opera carry a Chrome
// token, legacy Edge carries "Edge/", so the more specific markers come first.
var browserSignatures = []signature{
	{"edg/", "Edge", regexp.MustCompile(`(?i)edg/([0-9.]+)`)},
	{"edge/", "Edge", regexp.MustCompile(`(?i)edge/([0-9.]+)`)},
	{"opr/", "Opera", regexp.MustCompile(`(?i)opr/([0-9.]+)`)},
	{"opera", "Opera", regexp.MustCompile(`(?i)opera[/ ]([0-9.]+)`)},
	{"firefox/", "Firefox", regexp.MustCompile(`(?i)firefox/([0-9.]+)`)},
	{"chrome/", "Chrome", regexp.MustCompile(`(?i)chrome/([0-9.]+)`)},
	{"crios/", "Chrome", regexp.MustCompile(`(?i)crios/([0-9.]+)`)},
	{"safari/", "Safari", regexp.MustCompile(`(?i)version/([0-9.]+)`)},
	{"msie", "IE", regexp.MustCompile(`(?i)msie ([0-9.]+)`)},
	{"trident/", "IE", regexp.MustCompile(`(?i)rv:([0-9.]+)`)},
}

var (
	windowsVersion = regexp.MustCompile(`(?i)windows nt ([0-9.]+)`)
	macVersion     = regexp.MustCompile(`(?i)mac os x ([0-9_.]+)`)
	iosVersion     = regexp.MustCompile(`(?i)(?:iphone )?os ([0-9_]+)`)
	androidVersion = regexp.MustCompile(`(?i)android ([0-9.]+)`)
	webkitVersion  = regexp.MustCompile(`(?i)applewebkit/([0-9.]+)`)
	geckoVersion   = regexp.MustCompile(`(?i)rv:([0-9.]+)\) gecko`)
)

// Parse parses a raw client-identification string. It is a pure function:
// the same input always yields the same output.
func Parse(raw string) ParsedUA {
	parsed := ParsedUA{
		Raw:    raw,
		Device: DeviceTypeUnknown,
	}
	if raw == "" {
		return parsed
	}

	lower := strings.ToLower(raw)

	// Native-app template takes priority over browser signature matching.
	if m := nativeAppPattern.FindStringSubmatch(raw); m != nil && !looksLikeBrowser(lower) {
		parsed.NativeApp = true
		parsed.Browser.Name = m[1]
		parsed.Browser.Version = m[2]
		parsed.Browser.Major = majorOf(m[2])
		parsed.OS.Name = normalizeOSName(strings.TrimSpace(m[3]))
		parsed.AppToken = strings.TrimSpace(m[4])
		parsed.Device = resolveDeviceType(lower, parsed.OS.Name, true)
		return parsed
	}

	parsed.Browser = detectBrowser(raw, lower)
	parsed.OS = detectOS(raw, lower)
	parsed.Engine = detectEngine(raw, lower)
	parsed.Device = resolveDeviceType(lower, parsed.OS.Name, false)
	return parsed
}

func detectBrowser(raw, lower string) Browser {
	for _, sig := range browserSignatures {
		if !strings.Contains(lower, sig.marker) {
			continue
		}
		b := Browser{Name: sig.name}
		if m := sig.version.FindStringSubmatch(raw); m != nil {
			b.Version = m[1]
			b.Major = majorOf(m[1])
		}
		return b
	}
	return Browser{}
}

func detectOS(raw, lower string) OS {
	switch {
	case strings.Contains(lower, "windows"):
		os := OS{Name: "Windows"}
		if m := windowsVersion.FindStringSubmatch(raw); m != nil {
			os.Version = m[1]
		}
		return os
	case strings.Contains(lower, "ipad"):
		os := OS{Name: "iPadOS"}
		if m := iosVersion.FindStringSubmatch(raw); m != nil {
			os.Version = strings.ReplaceAll(m[1], "_", ".")
		}
		return os
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipod"):
		os := OS{Name: "iOS"}
		if m := iosVersion.FindStringSubmatch(raw); m != nil {
			os.Version = strings.ReplaceAll(m[1], "_", ".")
		}
		return os
	case strings.Contains(lower, "mac os x"), strings.Contains(lower, "macintosh"):
		os := OS{Name: "macOS"}
		if m := macVersion.FindStringSubmatch(raw); m != nil {
			os.Version = strings.ReplaceAll(m[1], "_", ".")
		}
		return os
	case strings.Contains(lower, "android"):
		os := OS{Name: "Android"}
		if m := androidVersion.FindStringSubmatch(raw); m != nil {
			os.Version = m[1]
		}
		return os
	case strings.Contains(lower, "linux"):
		return OS{Name: "Linux"}
	}
	return OS{}
}

func detectEngine(raw, lower string) Engine {
	switch {
	case strings.Contains(lower, "applewebkit"):
		name := "WebKit"
		// Chromium forks report WebKit for compatibility but render with Blink
		if strings.Contains(lower, "chrome/") || strings.Contains(lower, "edg/") || strings.Contains(lower, "opr/") {
			name = "Blink"
		}
		e := Engine{Name: name}
		if m := webkitVersion.FindStringSubmatch(raw); m != nil {
			e.Version = m[1]
		}
		return e
	case strings.Contains(lower, "gecko/"):
		e := Engine{Name: "Gecko"}
		if m := geckoVersion.FindStringSubmatch(raw); m != nil {
			e.Version = m[1]
		}
		return e
	case strings.Contains(lower, "trident/"):
		return Engine{Name: "Trident"}
	}
	return Engine{}
}

// resolveDeviceType applies the detection order: tablet, then mobile, then
// desktop, else unknown.
func resolveDeviceType(lower, osName string, nativeApp bool) DeviceType {
	if strings.Contains(lower, "ipad") || (strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")) {
		return DeviceTypeTablet
	}
	if nativeApp || strings.Contains(lower, "mobile") ||
		osName == "iOS" || osName == "iPadOS" || osName == "Android" ||
		strings.Contains(lower, "iphone") || strings.Contains(lower, "android") {
		return DeviceTypeMobile
	}
	switch osName {
	case "Windows", "macOS", "Linux":
		return DeviceTypeDesktop
	}
	return DeviceTypeUnknown
}

// looksLikeBrowser guards the native-app template against browser strings
// that happen to start with a Product/Version prefix (every Mozilla UA does).
func looksLikeBrowser(lower string) bool {
	return strings.HasPrefix(lower, "mozilla/") || strings.Contains(lower, "applewebkit") ||
		strings.Contains(lower, "gecko") || strings.Contains(lower, "trident")
}

func normalizeOSName(platform string) string {
	switch strings.ToLower(platform) {
	case "ios", "iphone os":
		return "iOS"
	case "ipados":
		return "iPadOS"
	case "android":
		return "Android"
	case "windows":
		return "Windows"
	case "macos", "mac os x", "osx":
		return "macOS"
	case "linux":
		return "Linux"
	}
	return platform
}

func majorOf(version string) string {
	if idx := strings.IndexByte(version, '.'); idx > 0 {
		return version[:idx]
	}
	return version
}
