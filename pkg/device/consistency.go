package device

import (
	"regexp"
	"strings"

	"github.com/veridian-id/trustcore/pkg/useragent"
)

// Inconsistency tags produced by the header cross-checks.
const (
	InconsistencyMissingDeviceHeaders = "missing_device_headers"
	InconsistencyInvalidDeviceModel   = "invalid_device_model"
	InconsistencyHeaderCombination    = "suspicious_header_combination"
	InconsistencySystemVersion        = "system_version_mismatch"
	InconsistencyAppVersion           = "app_version_mismatch"
)

// ConsistencyResult holds the inconsistency list and derived score.
type ConsistencyResult struct {
	Inconsistencies []string
	Score           float64
}

// Has reports whether the given inconsistency tag fired.
func (r ConsistencyResult) Has(tag string) bool {
	for _, inc := range r.Inconsistencies {
		if inc == tag {
			return true
		}
	}
	return false
}

// AllowsVerbatimIdentifier reports whether a client-supplied identifier may
// be used verbatim as the primary fingerprint. The identifier is refused
// when any check other than the device-model shape check fired, or when the
// identifier itself is structurally degenerate.
func (r ConsistencyResult) AllowsVerbatimIdentifier(id string) bool {
	if r.Has(InconsistencyMissingDeviceHeaders) ||
		r.Has(InconsistencyHeaderCombination) ||
		r.Has(InconsistencySystemVersion) ||
		r.Has(InconsistencyAppVersion) {
		return false
	}
	return !isDegenerateIdentifier(id)
}

// Device model shapes: "Vendor<digits>,<digits>" (iPhone15,2) or
// "Word alnum-code" (SM-X906C, Pixel 8).
var deviceModelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Za-z]+\d+,\d+$`),
	regexp.MustCompile(`^[A-Za-z]{2,}[ -][A-Za-z0-9][A-Za-z0-9 -]*$`),
}

// ValidateConsistency cross-checks the auxiliary headers against the parsed
// UA and against each other. Each check fires independently; the score is
// max(0, 1 - 0.2 * count).
func ValidateConsistency(data FingerprintData, parsed useragent.ParsedUA) ConsistencyResult {
	var inconsistencies []string

	hasNativeHeaders := data.DeviceInstanceID != "" || data.DeviceModel != "" ||
		data.SystemVersion != "" || data.AppVersion != "" || data.AppBuild != "" ||
		data.Capabilities != ""
	hasBrowserHeaders := data.WebGL != "" || data.Canvas != ""

	// (a) a native-app-shaped UA with no native-app auxiliary headers at all
	if parsed.NativeApp && !hasNativeHeaders {
		inconsistencies = append(inconsistencies, InconsistencyMissingDeviceHeaders)
	}

	// (b) device model failing the vendor shape check
	if data.DeviceModel != "" && !validDeviceModel(data.DeviceModel) {
		inconsistencies = append(inconsistencies, InconsistencyInvalidDeviceModel)
	}

	// (c) native-app-only headers alongside browser-only headers
	if hasNativeHeaders && hasBrowserHeaders {
		inconsistencies = append(inconsistencies, InconsistencyHeaderCombination)
	}

	// (d) declared system version disagreeing with the UA-parsed OS family
	if data.SystemVersion != "" && systemVersionMismatch(data.SystemVersion, parsed.OS) {
		inconsistencies = append(inconsistencies, InconsistencySystemVersion)
	}

	// (e) declared app version disagreeing with the UA-parsed client version
	if data.AppVersion != "" && parsed.NativeApp &&
		parsed.Browser.Version != "" && data.AppVersion != parsed.Browser.Version {
		inconsistencies = append(inconsistencies, InconsistencyAppVersion)
	}

	score := 1.0 - 0.2*float64(len(inconsistencies))
	if score < 0 {
		score = 0
	}
	return ConsistencyResult{
		Inconsistencies: inconsistencies,
		Score:           score,
	}
}

func validDeviceModel(model string) bool {
	for _, pattern := range deviceModelPatterns {
		if pattern.MatchString(model) {
			return true
		}
	}
	return false
}

// systemVersionMismatch checks a declared system version like "iOS 17.1",
// "iOS", or a bare "17.1" against the parsed OS family and version.
func systemVersionMismatch(declared string, os useragent.OS) bool {
	if os.Name == "" {
		return false
	}
	fields := strings.Fields(declared)
	if len(fields) == 0 {
		return false
	}

	family := declared
	version := ""
	if startsWithDigit(fields[len(fields)-1]) {
		version = fields[len(fields)-1]
		family = strings.Join(fields[:len(fields)-1], " ")
	}

	if family != "" && !sameOSFamily(family, os.Name) {
		return true
	}
	if version != "" && os.Version != "" && majorVersion(version) != majorVersion(os.Version) {
		return true
	}
	return false
}

func sameOSFamily(declared, parsed string) bool {
	d := strings.ToLower(strings.ReplaceAll(declared, " ", ""))
	p := strings.ToLower(parsed)
	// native-app headers report iPadOS as an iOS derivative
	if p == "ipados" && d == "ios" {
		return true
	}
	return d == p
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func majorVersion(v string) string {
	if idx := strings.IndexByte(v, '.'); idx > 0 {
		return v[:idx]
	}
	return v
}

// Known placeholder and degenerate identifier values. The check is
// deliberately narrow: any syntactically valid random UUID passes, only
// all-same-character blocks and well-known placeholders are refused.
func isDegenerateIdentifier(id string) bool {
	lower := strings.ToLower(id)
	switch lower {
	case "00000000-0000-0000-0000-000000000000",
		"ffffffff-ffff-ffff-ffff-ffffffffffff",
		"deadbeef-dead-beef-dead-beefdeadbeef":
		return true
	}

	blocks := strings.Split(lower, "-")
	for _, block := range blocks {
		if !allSameCharacter(block) {
			return false
		}
	}
	return len(blocks) > 1
}

func allSameCharacter(s string) bool {
	if s == "" {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
