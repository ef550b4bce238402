package corpus

// ClassMap is the ordered mapping between class names and class indexes.
// For a class barrel, row i, class index i and ClassMap name i all refer to
// the same class.
type ClassMap struct {
	names []string
	index map[string]int
}

// NewClassMap creates an empty class map.
func NewClassMap() *ClassMap {
	return &ClassMap{index: make(map[string]int)}
}

// ClassMapOf builds a class map from names in index order.
func ClassMapOf(names ...string) *ClassMap {
	m := NewClassMap()
	for _, n := range names {
		m.Intern(n)
	}
	return m
}

// Intern returns the index for name, assigning the next free one if new.
func (m *ClassMap) Intern(name string) int {
	if ci, ok := m.index[name]; ok {
		return ci
	}
	ci := len(m.names)
	m.names = append(m.names, name)
	m.index[name] = ci
	return ci
}

// Lookup returns the index for name, or NoClass.
func (m *ClassMap) Lookup(name string) int {
	if ci, ok := m.index[name]; ok {
		return ci
	}
	return NoClass
}

// Name returns the name at index ci, or "" when out of range.
func (m *ClassMap) Name(ci int) string {
	if ci < 0 || ci >= len(m.names) {
		return ""
	}
	return m.names[ci]
}

// Size returns the number of classes.
func (m *ClassMap) Size() int {
	return len(m.names)
}

// Names returns the class names in index order. The slice is shared.
func (m *ClassMap) Names() []string {
	return m.names
}

// Clone deep-copies the map.
func (m *ClassMap) Clone() *ClassMap {
	c := NewClassMap()
	for _, n := range m.names {
		c.Intern(n)
	}
	return c
}
