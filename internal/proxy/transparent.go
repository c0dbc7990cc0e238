package proxy

// transparentMethods names the introspection operations that MUST NOT
// trigger call/start: identity, representation, and equality-by-identity
// checks a caller (or the codec, walking a degraded value's attributes)
// makes incidentally while handling a Proxied value.
var transparentMethods = map[string]bool{
	"String": true,
	"Error":  true,
	"Equal":  true,
	"Unwrap": true,
}

// isTransparent reports whether method bypasses interception entirely.
func isTransparent(method string) bool {
	return transparentMethods[method]
}
