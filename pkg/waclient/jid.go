package waclient

import "strings"

// NormalizeJID turns a bare phone number into a user jid ("@c.us"). Values
// that already carry a server part pass through unchanged. This is the
// conversation-key derivation used everywhere a wait is registered.
func NormalizeJID(to string) string {
	to = strings.TrimSpace(to)
	if to == "" || strings.Contains(to, "@") {
		return to
	}
	return to + "@c.us"
}

// BareNumber strips the server part from a jid, if any.
func BareNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
