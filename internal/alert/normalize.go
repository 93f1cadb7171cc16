package alert

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// maxSafeInteger is the largest integer exactly representable in a float64.
const maxSafeInteger = 1<<53 - 1

// Normalize maps one raw alert object of the named scanner type into a
// Normalized alert. It is deterministic and has no side effects.
func Normalize(typeName string, raw []byte) (*Normalized, error) {
	t, err := ParseType(typeName)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidAlert)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: payload is not an object", ErrInvalidAlert)
	}

	number, err := alertNumber(doc)
	if err != nil {
		return nil, err
	}

	al := &Normalized{
		Type:   t,
		Number: number,
		URL:    sanitizeShort(doc.Get("html_url").String()),
	}

	// exhaustive over Type
	switch t {
	case TypeCodeScan:
		normalizeCodeScan(doc, al)
	case TypeSecretScan:
		normalizeSecretScan(doc, al)
	case TypeDependency:
		normalizeDependency(doc, al)
	}

	if al.Location.Path == "" {
		al.Location.Path = UnknownPath
	}
	return al, nil
}

func alertNumber(doc gjson.Result) (int64, error) {
	n := doc.Get("number")
	if !n.Exists() {
		return 0, fmt.Errorf("%w: missing alert number", ErrInvalidAlert)
	}
	if n.Type != gjson.Number {
		return 0, fmt.Errorf("%w: alert number is not numeric", ErrInvalidAlert)
	}
	f := n.Num
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0, fmt.Errorf("%w: alert number is not finite", ErrInvalidAlert)
	case f < 0:
		return 0, fmt.Errorf("%w: alert number %v is negative", ErrInvalidAlert, f)
	case f != math.Trunc(f) || f > maxSafeInteger:
		return 0, fmt.Errorf("%w: alert number %v is not a safe integer", ErrInvalidAlert, f)
	}
	return int64(f), nil
}

func normalizeCodeScan(doc gjson.Result, al *Normalized) {
	rule := doc.Get("rule")
	severity := severityOf(rule.Get("severity"))
	effective := severityOf(rule.Get("security_severity_level"))
	if effective == "" {
		effective = severity
	}

	short := rule.Get("description").String()
	if short == "" {
		short = rule.Get("name").String()
	}
	long := rule.Get("full_description").String()
	if long == "" {
		long = rule.Get("help").String()
	}
	if long == "" {
		long = doc.Get("most_recent_instance.message.text").String()
	}

	al.Rule = Rule{
		ID:                sanitizeShort(rule.Get("id").String()),
		Severity:          severity,
		EffectiveSeverity: effective,
		ShortDescription:  sanitizeShort(short),
		LongDescription:   sanitizeLong(long),
	}

	inst := doc.Get("most_recent_instance")
	al.Location = Location{
		Path:      sanitizeShort(inst.Get("location.path").String()),
		StartLine: lineOf(inst.Get("location.start_line")),
		EndLine:   lineOf(inst.Get("location.end_line")),
		CommitSHA: sanitizeShort(inst.Get("commit_sha").String()),
	}
}

// Secret scanning does not grade severity, every leaked secret is critical.
func normalizeSecretScan(doc gjson.Result, al *Normalized) {
	secretType := doc.Get("secret_type").String()
	display := doc.Get("secret_type_display_name").String()
	if display == "" {
		display = secretType
	}

	long := fmt.Sprintf("A %s secret was detected in the repository.", display)
	if validity := doc.Get("validity").String(); validity != "" {
		long += " Validity: " + validity + "."
	}

	al.Rule = Rule{
		ID:                sanitizeShort(secretType),
		Severity:          "critical",
		EffectiveSeverity: "critical",
		ShortDescription:  sanitizeShort(display),
		LongDescription:   sanitizeLong(long),
	}

	loc := doc.Get("locations.0.details")
	al.Location = Location{
		Path:      sanitizeShort(loc.Get("path").String()),
		StartLine: lineOf(loc.Get("start_line")),
		EndLine:   lineOf(loc.Get("end_line")),
		CommitSHA: sanitizeShort(loc.Get("commit_sha").String()),
	}
}

func normalizeDependency(doc gjson.Result, al *Normalized) {
	adv := doc.Get("security_advisory")
	severity := severityOf(adv.Get("severity"))
	if severity == "" {
		severity = severityOf(doc.Get("security_vulnerability.severity"))
	}

	id := adv.Get("ghsa_id").String()
	if id == "" {
		id = adv.Get("cve_id").String()
	}

	pkg := doc.Get("dependency.package.name").String()
	short := adv.Get("summary").String()
	if short == "" && pkg != "" {
		short = "Vulnerable dependency " + pkg
	}

	var long strings.Builder
	long.WriteString(adv.Get("description").String())
	if cve := adv.Get("cve_id").String(); cve != "" {
		fmt.Fprintf(&long, "\n\nCVE: %s", cve)
	}
	if pkg != "" {
		fmt.Fprintf(&long, "\nPackage: %s (%s)", pkg, doc.Get("dependency.package.ecosystem").String())
	}
	if patched := doc.Get("security_vulnerability.first_patched_version.identifier").String(); patched != "" {
		fmt.Fprintf(&long, "\nFirst patched version: %s", patched)
	}

	al.Rule = Rule{
		ID:                sanitizeShort(id),
		Severity:          severity,
		EffectiveSeverity: severity,
		ShortDescription:  sanitizeShort(short),
		LongDescription:   sanitizeLong(long.String()),
	}
	al.Location = Location{
		Path: sanitizeShort(doc.Get("dependency.manifest_path").String()),
	}
}

func severityOf(r gjson.Result) string {
	return strings.ToLower(sanitizeShort(r.String()))
}

func lineOf(r gjson.Result) int {
	if r.Type != gjson.Number || r.Num < 0 || r.Num > math.MaxInt32 {
		return 0
	}
	return int(r.Num)
}
