package property

// ReadOnly projects a Reader without exposing any way to write to it.
type ReadOnly struct {
	r Reader
}

// NewReadOnly wraps r.
func NewReadOnly(r Reader) ReadOnly {
	return ReadOnly{r: r}
}

// Get returns the named value.
func (ro ReadOnly) Get(name string) (Value, bool) {
	if ro.r == nil {
		return Value{}, false
	}
	return ro.r.Get(name)
}

// All returns every value ordered by name.
func (ro ReadOnly) All() []Value {
	if ro.r == nil {
		return nil
	}
	return ro.r.All()
}
