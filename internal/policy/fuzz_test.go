package policy

import "testing"

func FuzzParseBundle(f *testing.F) {
	// Seed with the template
	f.Add([]byte(DefaultBundleYAML()))

	// Seed with minimal valid YAML
	f.Add([]byte(`delegations:
  - grantor: g
    delegate: d
    bureau: b
    starts_at: "2025-01-01T00:00:00Z"
    ends_at: "2025-02-01T00:00:00Z"
`))

	// Seed with empty
	f.Add([]byte{})

	// Seed with garbage
	f.Add([]byte(`{{{not yaml at all`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic on any input
		ParseBundle(data)
	})
}
