package rotation

// Binding records which server key the in-flight poll cycle belongs to. It is
// set in BeforeTick and cleared once the cycle's messages have been handed
// downstream, so every message of a cycle is attributed to one server.
type Binding struct {
	key   string
	bound bool
}

// Bind sets the key for the current cycle.
func (b *Binding) Bind(key string) {
	b.key = key
	b.bound = true
}

// CurrentKey returns the bound key, if any.
func (b *Binding) CurrentKey() (string, bool) {
	return b.key, b.bound
}

// Clear unbinds.
func (b *Binding) Clear() {
	b.key = ""
	b.bound = false
}
