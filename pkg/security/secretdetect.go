// Package security implements the kernel's security primitives: principals,
// capability tokens, agent quarantine, egress quota, secret detection, and
// secrets-at-rest envelope encryption (spec §3, §4.5, §6).
package security

import "regexp"

// SecretDetector scans an opaque event data payload for values that look
// like credentials, generalized from the teacher's Masker interface
// (pkg/masking/masker.go: Name/AppliesTo/Mask) — there it masked known
// Kubernetes Secret shapes before display; here it flags whether the event
// store writer should mark contains_secrets and run the secret_detected
// policy per spec §4.3.
type SecretDetector interface {
	// Name returns the detector's identifier for logging/metrics.
	Name() string
	// Detect performs a cheap pre-check before falling through to Scan.
	Detect(data string) bool
	// Scan returns the names of matched secret patterns, or nil if none.
	Scan(data string) []string
}

// patternDetector is a regex-pattern-based SecretDetector, a direct
// generalization of the teacher's CompiledPattern (pkg/masking/pattern.go)
// minus the YAML/config-driven pattern-group resolution machinery that
// package built around it — this kernel's pattern set is a small fixed
// built-in list rather than a per-MCP-server configurable registry,
// because the spec has no analogous per-tool masking surface.
type patternDetector struct {
	patterns map[string]*regexp.Regexp
}

// NewDefaultSecretDetector returns a detector covering common
// credential shapes: AWS access keys, generic API keys/tokens, PEM private
// key blocks, and bearer/JWT-shaped strings.
func NewDefaultSecretDetector() SecretDetector {
	return &patternDetector{
		patterns: map[string]*regexp.Regexp{
			"aws_access_key_id": regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			"private_key_block": regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
			"generic_api_key":   regexp.MustCompile(`(?i)(api[_-]?key|secret|token)["':=\s]+[A-Za-z0-9_\-]{20,}`),
			"bearer_token":      regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}`),
			"jwt":               regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
		},
	}
}

func (d *patternDetector) Name() string { return "default_pattern_detector" }

func (d *patternDetector) Detect(data string) bool {
	return len(d.Scan(data)) > 0
}

func (d *patternDetector) Scan(data string) []string {
	var matched []string
	for name, re := range d.patterns {
		if re.MatchString(data) {
			matched = append(matched, name)
		}
	}
	return matched
}
