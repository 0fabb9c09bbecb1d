package scopearena

// Promote moves the value behind h from src into the receiver, typically
// an ancestor of src, and returns the new handle. The source entry is
// marked dead. A handle that is null, dead or not owned by src yields
// NullHandle.
func (a *Arena) Promote(src *Arena, h Handle) Handle {
	return a.transfer(src, h, true)
}

// Clone copies the value behind h from src into the receiver and returns
// the new handle. The source stays live.
func (a *Arena) Clone(src *Arena, h Handle) Handle {
	return a.transfer(src, h, false)
}

// CloneAny clones from the first arena on the chain src, src.Parent(), ...
// where h is live.
func (a *Arena) CloneAny(src *Arena, h Handle) Handle {
	if owner := src.resolve(h); owner != nil {
		return a.Clone(owner, h)
	}
	return NullHandle
}

// CloneFromParent clones from the nearest ancestor of src where h is live,
// skipping src itself. src is consulted only when it is the root. Use it
// for values known to come from an enclosing scope, where src may hold an
// unrelated entry at the same index.
func (a *Arena) CloneFromParent(src *Arena, h Handle) Handle {
	if src == nil || h.IsNull() {
		return NullHandle
	}
	if owner := src.parent.resolve(h); owner != nil {
		return a.Clone(owner, h)
	}
	if src.IsRoot() && src.owns(h) {
		return a.Clone(src, h)
	}
	return NullHandle
}

// ClonePreferParent clones from the nearest ancestor of src where h is
// live and falls back to src itself. An ancestor's entry always predates
// a colliding entry of a descendant.
func (a *Arena) ClonePreferParent(src *Arena, h Handle) Handle {
	if src == nil || h.IsNull() {
		return NullHandle
	}
	if owner := src.parent.resolve(h); owner != nil {
		return a.Clone(owner, h)
	}
	if src.owns(h) {
		return a.Clone(src, h)
	}
	return NullHandle
}

// resolve returns the first arena from a upwards that owns h.
func (a *Arena) resolve(h Handle) *Arena {
	if h.IsNull() {
		return nil
	}
	for cur := a; cur != nil; cur = cur.parent {
		if cur.owns(h) {
			return cur
		}
	}
	return nil
}

// owns reports whether h is live in this arena. Indices below the offset
// belong to ancestors and never validate here.
func (a *Arena) owns(h Handle) bool {
	return a.table.Valid(h.Index(), h.Gen())
}

func (a *Arena) transfer(src *Arena, h Handle, move bool) Handle {
	if src == nil || h.IsNull() {
		return NullHandle
	}

	data, ok := src.pinLocal(h)
	if !ok {
		return NullHandle
	}
	defer src.unpinLocal(h)

	nh := a.store(NullHandle, data)
	if move {
		src.MarkDead(h)
	}
	return nh
}
