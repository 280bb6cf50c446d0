package entity

// SettingValueType tags what a Setting's Value column actually holds,
// since the store keeps all setting values as strings.
type SettingValueType string

const (
	SettingTypeString SettingValueType = "string"
	SettingTypeInt    SettingValueType = "int"
	SettingTypeBool   SettingValueType = "bool"
	SettingTypeFloat  SettingValueType = "float"
)

// Setting is a typed key/value row. Recognised keys are a closed set (see
// settingssync.RecognisedKeys); unrecognised keys are accepted but ignored
// by the router.
type Setting struct {
	Key       string
	Value     string
	ValueType SettingValueType
	UpdatedAt int64 // unix-ms
}

// Credential is the single active scraped-auth record for a backend like
// qwen-web: a bearer token, a serialised cookie jar, and an optional
// expiry. ExpiresAt is 0 when the credential has no known expiry.
type Credential struct {
	Backend     string // e.g. "qwen-web"
	Token       string
	Cookies     string
	ExpiresAt   int64 // unix-ms, 0 = no known expiry
	Stale       bool  // set when upstream rejects with 401/403; not deleted
	UpdatedAt   int64 // unix-ms
}

// IsValid reports whether the credential has both a token and cookies and
// is not expired (and not marked stale) as of nowMS.
func (c Credential) IsValid(nowMS int64) bool {
	if c.Token == "" || c.Cookies == "" {
		return false
	}
	if c.Stale {
		return false
	}
	if c.ExpiresAt != 0 && nowMS > c.ExpiresAt {
		return false
	}
	return true
}
