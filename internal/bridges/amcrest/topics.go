package amcrest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AppName is the bridge namespace used as the first topic level and in
// discovery node ids.
const AppName = "amcrest2mqtt"

// Availability payloads published to the status topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Binary state payloads.
const (
	PayloadOn  = "on"
	PayloadOff = "off"
)

// placeholder is the discovery shorthand for an entity's base topic.
const placeholder = "~"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a display name into a topic-safe identifier.
//
// Accented characters are reduced to their base letter and any remaining
// non-ASCII text is transliterated ("Straße" -> "strasse", "Дверь" ->
// "dver"). Letters are lower-cased and every run of other characters
// becomes a single underscore.
// Leading and trailing underscores are trimmed, so Slugify(Slugify(s)) ==
// Slugify(s).
//
// Example:
//
//	Slugify("Storage Used %") // "storage_used"
//	Slugify("Façade Caméra")  // "facade_camera"
func Slugify(s string) string {
	// A transform chain carries state, so one is built per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	slug := nonAlnum.ReplaceAllString(strings.ToLower(unidecode.Unidecode(folded)), "_")
	return strings.Trim(slug, "_")
}

// =============================================================================
// Topic Builders
// =============================================================================

// DeviceTopic returns "{app}/{serial}", the root of every topic for a device.
func DeviceTopic(id DeviceIdentity) string {
	return fmt.Sprintf("%s/%s", AppName, id.SerialNumber)
}

// BaseTopic returns the state topic root for one entity:
// "{app}/{serial}/{slug}".
func BaseTopic(id DeviceIdentity, slug string) string {
	return fmt.Sprintf("%s/%s", DeviceTopic(id), slug)
}

// StatusTopic returns the retained availability topic "{app}/{serial}/status".
func StatusTopic(id DeviceIdentity) string {
	return DeviceTopic(id) + "/status"
}

// EventTopic returns the raw event topic "{app}/{serial}/event".
func EventTopic(id DeviceIdentity) string {
	return DeviceTopic(id) + "/event"
}

// NodeID returns the discovery node id "{app}-{serial}".
func NodeID(id DeviceIdentity) string {
	return fmt.Sprintf("%s-%s", AppName, id.SerialNumber)
}

// DiscoveryTopic returns
// "{prefix}/{component}/{app}-{serial}/{deviceSlug}_{entitySlug}/config".
// A device name with no usable characters falls back to the serial number.
func DiscoveryTopic(prefix string, component Component, id DeviceIdentity, entitySlug string) string {
	return fmt.Sprintf("%s/%s/%s/%s_%s/config",
		prefix, component, NodeID(id), deviceSlug(id), entitySlug)
}

func deviceSlug(id DeviceIdentity) string {
	if slug := Slugify(id.Name); slug != "" {
		return slug
	}
	return Slugify(id.SerialNumber)
}

// ResolveRelative expands the "~" placeholder in a topic template.
//
// At most one leading and one trailing "~" are replaced by base. A "~"
// anywhere else is left alone, and a template without "~" is returned
// unchanged.
//
// Example:
//
//	ResolveRelative("~/set", "amcrest2mqtt/AB123/flashlight")
//	// "amcrest2mqtt/AB123/flashlight/set"
func ResolveRelative(template, base string) string {
	if template == placeholder {
		return base
	}

	out := template
	if strings.HasPrefix(out, placeholder) {
		out = base + out[len(placeholder):]
	}
	if strings.HasSuffix(template, placeholder) {
		out = out[:len(out)-len(placeholder)] + base
	}
	return out
}

// SubTopic joins a base topic and an optional sub-topic.
func SubTopic(base, sub string) string {
	if sub == "" {
		return base
	}
	return base + "/" + sub
}
