package sos

import (
	"regexp"
	"strings"
)

var (
	cnicPattern  = regexp.MustCompile(`^\d{5}-\d{7}-\d$`)
	phonePattern = regexp.MustCompile(`^(\+92|0092|0)?3\d{2}-?\d{7}$`)
)

// EmergencyTypes accepted on submission.
var EmergencyTypes = []string{"medical", "flood", "fire", "building_collapse", "trapped", "landslide", "other"}

// ValidCNIC checks the 13-digit national identity number in 12345-1234567-1 form.
func ValidCNIC(s string) bool { return cnicPattern.MatchString(s) }

// ValidPhone checks a Pakistani mobile number (03xx..., +923xx..., 00923xx...).
func ValidPhone(s string) bool {
	return phonePattern.MatchString(strings.ReplaceAll(s, " ", ""))
}

// SubmitterKey is the rate-limit key for a CNIC: its digits only.
func SubmitterKey(cnic string) string {
	var b strings.Builder
	for _, r := range cnic {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validEmergencyType(s string) bool {
	for _, t := range EmergencyTypes {
		if t == s {
			return true
		}
	}
	return false
}
