package parser

import (
	"regexp"
	"strings"
)

// Signal is a piece of body evidence that a message is job-search related (or not)
type Signal struct {
	Type  string // "ats_boilerplate", "interview", "offer", "rejection", "applied", "vendor", "unsubscribe"
	Value string
}

// SignalDetector detects ATS boilerplate and bulk-mail footers in body text
type SignalDetector struct {
	patterns []*signalPattern
	vendors  []*signalPattern
}

type signalPattern struct {
	Type  string
	Regex *regexp.Regexp
}

// NewSignalDetector creates a new signal detector
func NewSignalDetector() *SignalDetector {
	return &SignalDetector{
		patterns: []*signalPattern{
			{
				Type:  "ats_boilerplate",
				Regex: regexp.MustCompile(`(?i)(thank you for (your interest in|applying)|we (have )?received your application|application (id|number|status)|your candidate (profile|portal))`),
			},
			{
				Type:  "interview",
				Regex: regexp.MustCompile(`(?i)(schedule (an|your|a) (interview|call|chat)|interview (invitation|invite|slot)|phone screen|technical (interview|assessment)|onsite interview)`),
			},
			{
				Type:  "offer",
				Regex: regexp.MustCompile(`(?i)(offer letter|pleased to (extend|offer)|compensation package|start date)`),
			},
			{
				Type:  "rejection",
				Regex: regexp.MustCompile(`(?i)(unfortunately[^.]{0,80}(not|other candidates)|decided to (move|proceed) forward with other|will not be moving forward|position has been filled)`),
			},
			{
				Type:  "applied",
				Regex: regexp.MustCompile(`(?i)(application (has been )?(submitted|received)|successfully applied)`),
			},
			{
				Type:  "unsubscribe",
				Regex: regexp.MustCompile(`(?i)(unsubscribe|manage (your )?(email )?preferences|view (this email )?in (your )?browser)`),
			},
		},
		vendors: []*signalPattern{
			{Type: "greenhouse", Regex: regexp.MustCompile(`(?i)powered by greenhouse|boards\.greenhouse\.io`)},
			{Type: "lever", Regex: regexp.MustCompile(`(?i)powered by lever|jobs\.lever\.co`)},
			{Type: "workday", Regex: regexp.MustCompile(`(?i)myworkdayjobs\.com|powered by workday`)},
			{Type: "ashby", Regex: regexp.MustCompile(`(?i)jobs\.ashbyhq\.com|powered by ashby`)},
			{Type: "smartrecruiters", Regex: regexp.MustCompile(`(?i)smartrecruiters\.com`)},
			{Type: "icims", Regex: regexp.MustCompile(`(?i)icims\.com`)},
			{Type: "workable", Regex: regexp.MustCompile(`(?i)apply\.workable\.com|powered by workable`)},
		},
	}
}

// Detect finds all signals in text; each type is reported once
func (d *SignalDetector) Detect(text string) []Signal {
	var signals []Signal
	seen := make(map[string]bool)

	for _, pattern := range append(d.patterns, d.vendors...) {
		if seen[pattern.Type] {
			continue
		}
		match := pattern.Regex.FindString(text)
		if match == "" {
			continue
		}
		seen[pattern.Type] = true

		typ := pattern.Type
		value := strings.ToLower(strings.TrimSpace(match))
		if d.isVendor(pattern) {
			typ, value = "vendor", pattern.Type
		}
		signals = append(signals, Signal{Type: typ, Value: value})
	}

	return signals
}

func (d *SignalDetector) isVendor(p *signalPattern) bool {
	for _, v := range d.vendors {
		if v == p {
			return true
		}
	}
	return false
}

// Has reports whether signals contain the given type
func Has(signals []Signal, typ string) bool {
	for _, s := range signals {
		if s.Type == typ {
			return true
		}
	}
	return false
}

// Vendor returns the first detected ATS vendor, if any
func Vendor(signals []Signal) string {
	for _, s := range signals {
		if s.Type == "vendor" {
			return s.Value
		}
	}
	return ""
}
