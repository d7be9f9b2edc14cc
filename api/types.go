// Package api defines the wire types exchanged with the FetchYourKeys
// service, shared by the client facade and the cache layer.
package api

// Key is a single stored API-key record as returned by the service.
// Metadata is service-internal and is stripped before a record reaches a
// caller; records are immutable from the client's perspective and replaced
// wholesale on every reload.
type Key struct {
	ID        int64          `json:"id"`
	Label     string         `json:"label"`
	Service   string         `json:"service,omitempty"`
	Value     string         `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsActive  bool           `json:"is_active"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// Sanitized returns a copy of k with the service-internal metadata
// stripped.
func (k Key) Sanitized() Key {
	k.Metadata = nil
	return k
}

// Redacted returns a copy of k safe for logs and diagnostics: metadata
// stripped and the secret value masked.
func (k Key) Redacted() Key {
	k = k.Sanitized()
	k.Value = Mask(k.Value)
	return k
}

// Mask obscures a secret for display. Values of eight characters or fewer
// are hidden entirely; longer ones keep the first and last four characters.
// Display only: ownership of a cache is proven by the derived signature,
// never by the mask.
func Mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}

// KeysResponse is the body returned by GET <baseURL>. Success is a pointer
// because some deployments omit the field and return a bare data array.
type KeysResponse struct {
	Success *bool  `json:"success,omitempty"`
	Data    []Key  `json:"data"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the response declares success. A missing success
// field counts as success when a data array is present.
func (r *KeysResponse) OK() bool {
	if r.Success != nil {
		return *r.Success
	}
	return r.Data != nil
}
