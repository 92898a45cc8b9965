package binflow

// Item represents a single unit of data flowing through the engine. The
// engine treats the payload as opaque and only inspects Size and, through the
// caller's GroupKeyFunc, the attributes.
type Item struct {
	// ID is a unique identifier for the item, assigned by the source that
	// produced it. It must not be modified once assigned.
	ID string

	// Size is the item's size in bytes. It counts toward the owning bin's
	// total size.
	Size int64

	// Attributes holds the item's key/value metadata. Processor attributes
	// are merged into this map when a bin completes successfully.
	Attributes map[string]string

	// Data holds the payload. The engine never inspects it; sources and
	// processors agree on its concrete type.
	Data interface{}
}

// Attribute returns the value of the named attribute, or the empty string if
// it is not set.
func (i *Item) Attribute(name string) string {
	if i.Attributes == nil {
		return ""
	}
	return i.Attributes[name]
}

// PutAllAttributes merges attrs into the item's attribute map.
func (i *Item) PutAllAttributes(attrs map[string]string) {
	if len(attrs) == 0 {
		return
	}
	if i.Attributes == nil {
		i.Attributes = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		i.Attributes[k] = v
	}
}
