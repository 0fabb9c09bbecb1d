package scopearena

// NewString copies s into the arena.
func (a *Arena) NewString(s string) Handle {
	return a.store(NullHandle, []byte(s))
}

// NewStringN copies at most n bytes of s into the arena.
func (a *Arena) NewStringN(s string, n int) Handle {
	if n < len(s) {
		s = s[:max(n, 0)]
	}
	return a.store(NullHandle, []byte(s))
}

// NewBytes copies b into the arena.
func (a *Arena) NewBytes(b []byte) Handle {
	return a.store(NullHandle, b)
}

// ReplaceString marks old dead and copies s into the arena.
func (a *Arena) ReplaceString(old Handle, s string) Handle {
	return a.store(old, []byte(s))
}

// ReadString returns a copy of the bytes behind h as a string, searching
// ancestors like Pin. ok is false if h is not live on the chain.
func (a *Arena) ReadString(h Handle) (s string, ok bool) {
	l, ok := a.Acquire(h)
	if !ok {
		return "", false
	}
	defer l.Release()
	return string(l.Bytes()), true
}

// PromoteString is Promote for string values.
func (a *Arena) PromoteString(src *Arena, h Handle) Handle {
	return a.Promote(src, h)
}

// store allocates len(data) bytes, copies data in and releases the
// allocation lease so the entry becomes movable.
func (a *Arena) store(old Handle, data []byte) Handle {
	if !old.IsNull() {
		a.MarkDead(old)
	}

	h, e := a.allocate(len(data), 1, true)
	copy(e.Ref().Bytes(), data)

	a.pinMu.Lock()
	e.Unlease()
	a.pinMu.Unlock()
	return h
}
