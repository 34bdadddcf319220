// Package xrplversion decodes the packed 64-bit server_version integers that
// rippled embeds in validation messages.
//
// Layout, from the most significant bits down: a 16-bit implementation
// identifier, then 8 bits each for major, minor and patch, then a 2-bit
// release type (2 = release candidate, 1 = beta, 0 = final) and a 6-bit
// pre-release number. The low 16 bits are padding.
package xrplversion

import (
	"fmt"
	"strconv"
)

const rippledImplementation = 0x183b

// Decode renders a packed version integer as a human readable string such as
// "rippled-1.9.4" or "rippled-1.10.0-rc2". Unknown implementation IDs keep
// the numeric identifier so foreign forks remain distinguishable.
func Decode(packed uint64) string {
	impl := packed >> 48
	major := (packed >> 40) & 0xff
	minor := (packed >> 32) & 0xff
	patch := (packed >> 24) & 0xff
	releaseType := (packed >> 22) & 0x3
	relNum := (packed >> 16) & 0x3f

	name := strconv.FormatUint(impl, 10)
	if impl == rippledImplementation {
		name = "rippled"
	}

	version := fmt.Sprintf("%s-%d.%d.%d", name, major, minor, patch)
	switch releaseType {
	case 2:
		version = fmt.Sprintf("%s-rc%d", version, relNum)
	case 1:
		version = fmt.Sprintf("%s-b%d", version, relNum)
	}
	return version
}

// DecodeString parses a decimal server_version string as sent on the wire
// and decodes it. Returns the input unchanged when it is not a plain integer,
// which covers servers that already report a symbolic version.
func DecodeString(s string) string {
	packed, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return s
	}
	return Decode(packed)
}
