package device

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/veridian-id/trustcore/pkg/useragent"
)

// FingerprintData contains the client signals a fingerprint is derived from:
// the raw client-identification string plus auxiliary request headers.
type FingerprintData struct {
	UserAgent        string
	ScreenResolution string
	Timezone         string
	Language         string
	Platform         string
	WebGL            string
	Canvas           string

	// Native-app fields
	DeviceInstanceID string
	DeviceModel      string
	DeviceName       string
	SystemVersion    string
	AppVersion       string
	AppBuild         string
	Capabilities     string
}

// Fingerprint is the derived device identity: a primary and secondary
// fingerprint, the components they were derived from, and a confidence level.
type Fingerprint struct {
	Primary    string
	Secondary  string
	Components map[string]string
	Confidence ConfidenceLevel
}

var uuidShape = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ExtractFingerprintDataFromRequest extracts fingerprint data from an HTTP request.
// The device name may arrive base64-encoded for transport; it is decoded when
// it decodes to valid UTF-8.
func ExtractFingerprintDataFromRequest(r *http.Request) FingerprintData {
	data := FingerprintData{
		UserAgent:        r.UserAgent(),
		ScreenResolution: r.Header.Get("Screen-Resolution"),
		Timezone:         r.Header.Get("Timezone"),
		Language:         primaryLanguage(r.Header.Get("Accept-Language")),
		Platform:         r.Header.Get("X-Platform"),
		WebGL:            r.Header.Get("X-WebGL"),
		Canvas:           r.Header.Get("X-Canvas"),
		DeviceInstanceID: r.Header.Get("X-Device-ID"),
		DeviceModel:      r.Header.Get("X-Device-Model"),
		DeviceName:       decodeDeviceName(r.Header.Get("X-Device-Name")),
		SystemVersion:    r.Header.Get("X-System-Version"),
		AppVersion:       r.Header.Get("X-App-Version"),
		AppBuild:         r.Header.Get("X-App-Build"),
		Capabilities:     r.Header.Get("X-Device-Capabilities"),
	}
	return data
}

// GenerateFingerprint derives the primary and secondary fingerprint and the
// confidence level. Priority order for the primary:
//
//  1. Hardware-identity hash when at least two hardware signals are present
//  2. Client-supplied device-instance id, verbatim, if UUID-shaped and consistent
//  3. UUID-shaped token from the native-app UA template, same gate
//  4. Full-signal hash over everything available
//
// Identical input always yields identical output.
func GenerateFingerprint(data FingerprintData, parsed useragent.ParsedUA) Fingerprint {
	consistency := ValidateConsistency(data, parsed)
	components := fingerprintComponents(data, parsed)

	fp := Fingerprint{
		Components: components,
		Confidence: confidenceLevel(data),
		Secondary:  secondaryFingerprint(data, parsed),
	}

	// Priority 1: hardware identity fields
	hardware := []string{}
	for _, v := range []string{data.DeviceModel, uaHardwareModel(parsed), data.Platform, data.SystemVersion} {
		if v != "" {
			hardware = append(hardware, v)
		}
	}
	if len(hardware) >= 2 {
		fp.Primary = hashTruncated(strings.Join(hardware, "|"))
		return fp
	}

	// Priority 2: client-supplied device-instance identifier, verbatim
	if data.DeviceInstanceID != "" && uuidShape.MatchString(data.DeviceInstanceID) &&
		consistency.AllowsVerbatimIdentifier(data.DeviceInstanceID) {
		fp.Primary = strings.ToLower(data.DeviceInstanceID)
		return fp
	}

	// Priority 3: UUID-shaped token embedded in the native-app template
	if parsed.NativeApp && uuidShape.MatchString(parsed.AppToken) &&
		consistency.AllowsVerbatimIdentifier(parsed.AppToken) {
		fp.Primary = strings.ToLower(parsed.AppToken)
		return fp
	}

	// Priority 4: full-signal hash
	full := strings.Join([]string{
		data.UserAgent,
		data.ScreenResolution,
		data.Timezone,
		data.Language,
		data.Platform,
		data.DeviceModel,
		data.SystemVersion,
		parsed.OS.Name + parsed.OS.Version,
		parsed.Browser.Name + parsed.Browser.Major,
	}, "|")
	fp.Primary = hashTruncated(full)
	return fp
}

// secondaryFingerprint is a cheaper digest used only as a correlation
// fallback, never as the sole identity key.
func secondaryFingerprint(data FingerprintData, parsed useragent.ParsedUA) string {
	combined := strings.Join([]string{
		data.UserAgent,
		data.Language,
		parsed.OS.Name,
		parsed.Browser.Name,
	}, "|")
	sum := md5.Sum([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// hashTruncated hashes the combined data with SHA-256 and truncates to
// 32 hex characters.
func hashTruncated(combined string) string {
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])[:32]
}

// Confidence weights per present signal.
func confidenceLevel(data FingerprintData) ConfidenceLevel {
	score := 0
	add := func(value string, points int) {
		if value != "" {
			score += points
		}
	}
	add(data.UserAgent, 1)
	add(data.ScreenResolution, 2)
	add(data.Timezone, 1)
	add(data.Language, 1)
	add(data.Platform, 2)
	add(data.WebGL, 2)
	add(data.Canvas, 2)
	add(data.DeviceInstanceID, 5)
	add(data.DeviceModel, 3)
	add(data.SystemVersion, 2)
	add(data.AppVersion, 2)
	add(data.AppBuild, 1)
	add(data.Capabilities, 3)

	switch {
	case score >= 12:
		return ConfidenceHigh
	case score >= 8:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func fingerprintComponents(data FingerprintData, parsed useragent.ParsedUA) map[string]string {
	components := map[string]string{}
	put := func(key, value string) {
		if value != "" {
			components[key] = value
		}
	}
	put("user_agent", data.UserAgent)
	put("screen", data.ScreenResolution)
	put("timezone", data.Timezone)
	put("language", data.Language)
	put("platform", data.Platform)
	put("device_model", data.DeviceModel)
	put("device_name", data.DeviceName)
	put("system_version", data.SystemVersion)
	put("app_version", data.AppVersion)
	put("app_build", data.AppBuild)
	put("os", parsed.OS.Name)
	put("browser", parsed.Browser.Name)
	put("device_type", string(parsed.Device))
	return components
}

// uaHardwareModel extracts a hardware model token from the parsed UA when
// one is recognizable (iPhone/iPad markers, Android model codes).
func uaHardwareModel(parsed useragent.ParsedUA) string {
	lower := strings.ToLower(parsed.Raw)
	switch {
	case strings.Contains(lower, "ipad"):
		return "iPad"
	case strings.Contains(lower, "iphone"):
		return "iPhone"
	}
	if m := androidModelPattern.FindStringSubmatch(parsed.Raw); m != nil {
		return m[1]
	}
	return ""
}

var androidModelPattern = regexp.MustCompile(`Android [0-9.]+; ([A-Za-z0-9 _-]+)\)`)

func primaryLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return ""
	}
	first := acceptLanguage
	if idx := strings.IndexByte(first, ','); idx >= 0 {
		first = first[:idx]
	}
	if idx := strings.IndexByte(first, ';'); idx >= 0 {
		first = first[:idx]
	}
	return strings.TrimSpace(first)
}

// decodeDeviceName handles device names sent base64-encoded for transport.
func decodeDeviceName(name string) string {
	if name == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(name)
	if err == nil && utf8.Valid(decoded) && len(decoded) > 0 {
		return string(decoded)
	}
	return name
}
