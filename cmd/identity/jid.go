package identity

import "strings"

const maxJIDPart = 1023

// JID is a parsed address: user@server/resource. User and Resource are optional.
type JID struct {
	User     string
	Server   string
	Resource string
}

// ParseJID parses and canonicalizes s.
// Note: canonicalization is trim + lower-case of user and server; the resource
// keeps its case. Full stringprep profiles can be added later behind a versioned policy.
func ParseJID(s string) (JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return JID{}, invalidJID("empty")
	}

	var j JID
	rest := s
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		j.Resource = rest[i+1:]
		rest = rest[:i]
		if j.Resource == "" {
			return JID{}, invalidJID("empty resource")
		}
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		j.User = NormalizeUser(rest[:i])
		rest = rest[i+1:]
		if j.User == "" {
			return JID{}, invalidJID("empty user")
		}
	}
	j.Server = NormalizeServer(rest)

	switch {
	case j.Server == "":
		return JID{}, invalidJID("empty server")
	case strings.ContainsAny(j.Server, "@/ "):
		return JID{}, invalidJID("invalid server")
	case strings.ContainsAny(j.User, "@/ "):
		return JID{}, invalidJID("invalid user")
	case len(j.User) > maxJIDPart || len(j.Server) > maxJIDPart || len(j.Resource) > maxJIDPart:
		return JID{}, invalidJID("part too long")
	}
	return j, nil
}

// MustParseJID is ParseJID for constants and tests.
func MustParseJID(s string) JID {
	j, err := ParseJID(s)
	if err != nil {
		panic(err)
	}
	return j
}

// NormalizeUser performs case-insensitive canonicalization of the local part.
func NormalizeUser(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeServer performs case-insensitive canonicalization of the domain part.
func NormalizeServer(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}

// Bare returns the JID without its resource.
func (j JID) Bare() JID {
	return JID{User: j.User, Server: j.Server}
}

// IsBare reports whether the JID has no resource.
func (j JID) IsBare() bool { return j.Resource == "" }

// IsZero reports whether the JID is unset.
func (j JID) IsZero() bool { return j == JID{} }

// WithResource returns a copy of j bound to resource.
func (j JID) WithResource(resource string) JID {
	j.Resource = resource
	return j
}

func (j JID) String() string {
	var b strings.Builder
	if j.User != "" {
		b.WriteString(j.User)
		b.WriteByte('@')
	}
	b.WriteString(j.Server)
	if j.Resource != "" {
		b.WriteByte('/')
		b.WriteString(j.Resource)
	}
	return b.String()
}
