package mcpserver

// AccessLevel classifies a JSON-RPC method for authentication purposes.
type AccessLevel int

const (
	// AccessProtected requires an authenticated identity.
	AccessProtected AccessLevel = iota

	// AccessPublic executes without authentication.
	AccessPublic
)

// MethodAuthPolicy maps JSON-RPC methods to access levels. Methods absent
// from the map are protected: a new method added without a policy entry
// fails closed.
type MethodAuthPolicy map[string]AccessLevel

// DefaultPolicy is the shipped policy: protocol handshake and tool
// discovery are public, everything else requires authentication.
func DefaultPolicy() MethodAuthPolicy {
	return MethodAuthPolicy{
		"initialize": AccessPublic,
		"tools/list": AccessPublic,
	}
}

// IsPublic reports whether the method may execute unauthenticated.
func (p MethodAuthPolicy) IsPublic(method string) bool {
	return p[method] == AccessPublic
}
