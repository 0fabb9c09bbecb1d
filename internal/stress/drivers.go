package stress

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/scopearena"
	"golang.org/x/sync/errgroup"
)

type driver func(ctx context.Context, e *env) error

var drivers = map[Kind]driver{
	KindFragmentation: fragmentationStorm,
	KindScopes:        mixedScopes,
	KindServer:        webServer,
	KindRecursive:     recursiveWalk,
	KindEventLoop:     eventLoop,
	KindConcurrent:    concurrentArenas,
}

type counters struct {
	allocs     atomic.Int64
	promotions atomic.Int64
	scopes     atomic.Int64
	resets     atomic.Int64
	verified   atomic.Int64
}

type env struct {
	root *scopearena.Arena
	p    Profile
	rng  *rand.Rand
	c    *counters
}

func (e *env) flush() {
	if e.root.Running() {
		e.root.GCFlush()
	}
}

func fill(a *scopearena.Arena, h scopearena.Handle, b byte) {
	buf := a.Pin(h)
	for i := range buf {
		buf[i] = b
	}
	a.Unpin(h)
}

func (e *env) alloc(a *scopearena.Arena, size int, b byte) scopearena.Handle {
	h := a.Alloc(size)
	fill(a, h, b)
	e.c.allocs.Add(1)
	return h
}

func (e *env) replace(a *scopearena.Arena, old scopearena.Handle, size int, b byte) scopearena.Handle {
	h := a.AllocReplace(old, size)
	fill(a, h, b)
	e.c.allocs.Add(1)
	return h
}

func (e *env) promote(dst, src *scopearena.Arena, h scopearena.Handle) scopearena.Handle {
	e.c.promotions.Add(1)
	return dst.Promote(src, h)
}

// check verifies that every byte of h equals b.
func (e *env) check(a *scopearena.Arena, h scopearena.Handle, size int, b byte) error {
	l, ok := a.Acquire(h)
	if !ok {
		return fmt.Errorf("handle %v is not live in arena %d", h, a.ID())
	}
	defer l.Release()

	buf := l.Bytes()
	if len(buf) != size {
		return fmt.Errorf("handle %v: size %d, want %d", h, len(buf), size)
	}
	for i, got := range buf {
		if got != b {
			return fmt.Errorf("handle %v: byte %d is %#x, want %#x", h, i, got, b)
		}
	}
	e.c.verified.Add(1)
	return nil
}

func (e *env) allocUint64(a *scopearena.Arena, v uint64) scopearena.Handle {
	h := a.Alloc(8)
	buf := a.Pin(h)
	binary.LittleEndian.PutUint64(buf, v)
	a.Unpin(h)
	e.c.allocs.Add(1)
	return h
}

func (e *env) readUint64(a *scopearena.Arena, h scopearena.Handle) (uint64, error) {
	l, ok := a.Acquire(h)
	if !ok {
		return 0, fmt.Errorf("handle %v is not live in arena %d", h, a.ID())
	}
	defer l.Release()

	e.c.verified.Add(1)
	return binary.LittleEndian.Uint64(l.Bytes()), nil
}

func fragmentationStorm(ctx context.Context, e *env) error {
	p := e.p
	children := make([]*scopearena.Arena, p.Children)
	handles := make([][]scopearena.Handle, p.Children)
	want := make([][]byte, p.Children)

	for c := range children {
		children[c] = e.root.NewChild()
		e.c.scopes.Add(1)
		handles[c] = make([]scopearena.Handle, p.Handles)
		want[c] = make([]byte, p.Handles)
		for i := range handles[c] {
			want[c][i] = byte(c*31 + i)
			handles[c][i] = e.alloc(children[c], p.AllocSize, want[c][i])
		}
	}

	for round := range p.Iterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		for c, child := range children {
			for range p.Handles / 2 {
				i := e.rng.IntN(p.Handles)
				want[c][i] = byte(c*31 + i + round + 1)
				handles[c][i] = e.replace(child, handles[c][i], p.AllocSize, want[c][i])
			}
		}
	}

	e.flush()
	for _, child := range children {
		if err := child.Compact(); err != nil {
			return err
		}
	}
	e.flush()

	for c, child := range children {
		if n := child.LiveCount(); n != p.Handles {
			return fmt.Errorf("child %d: %d live entries, want %d", c, n, p.Handles)
		}
		for i, h := range handles[c] {
			if err := e.check(child, h, p.AllocSize, want[c][i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func mixedScopes(ctx context.Context, e *env) error {
	p := e.p
	var (
		promoted []scopearena.Handle
		want     []byte
	)

	for call := range p.Iterations {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch call % 3 {
		case 0:
			child := e.root.NewChild()
			e.c.scopes.Add(1)
			for i := range p.Handles {
				e.alloc(child, p.AllocSize, byte(i))
			}
			for k := range 1 + e.rng.IntN(p.PromoteEvery) {
				b := byte(call + k)
				h := e.alloc(child, 2*p.AllocSize, b)
				promoted = append(promoted, e.promote(e.root, child, h))
				want = append(want, b)
			}
			child.DestroyChild()
		case 1:
			child := e.root.NewChild()
			e.c.scopes.Add(1)
			for i := range p.Handles + 3 {
				e.alloc(child, p.AllocSize+16, byte(i))
			}
			child.DestroyChild()
		default:
			e.alloc(e.root, p.AllocSize, byte(call))
		}
	}

	if n := e.root.LiveCount(); n < len(promoted) {
		return fmt.Errorf("root holds %d live entries, want at least %d", n, len(promoted))
	}
	e.flush()
	for i, h := range promoted {
		if err := e.check(e.root, h, 2*p.AllocSize, want[i]); err != nil {
			return err
		}
	}
	return nil
}

func webServer(ctx context.Context, e *env) error {
	p := e.p
	session := e.root.NewChild()
	e.c.scopes.Add(1)

	var (
		data []scopearena.Handle
		want []byte
	)

	for req := range p.Iterations {
		if err := ctx.Err(); err != nil {
			return err
		}

		request := e.root.NewChild()
		e.c.scopes.Add(1)

		var last scopearena.Handle
		var b byte
		for i := range p.Handles {
			b = byte(req + i)
			last = e.alloc(request, p.AllocSize, b)
		}
		if !last.IsNull() && req%p.PromoteEvery == 0 {
			data = append(data, e.promote(session, request, last))
			want = append(want, b)
		}
		request.DestroyChild()

		if p.ResetEvery > 0 && (req+1)%p.ResetEvery == 0 {
			session.Reset()
			e.c.resets.Add(1)
			if n := session.LiveCount(); n != 0 {
				return fmt.Errorf("session holds %d live entries after reset", n)
			}
			data, want = data[:0], want[:0]
		}
	}

	e.flush()
	for i, h := range data {
		if err := e.check(session, h, p.AllocSize, want[i]); err != nil {
			return err
		}
	}
	return nil
}

func recursiveWalk(ctx context.Context, e *env) error {
	p := e.p

	var walk func(parent *scopearena.Arena, depth int) (scopearena.Handle, error)
	walk = func(parent *scopearena.Arena, depth int) (scopearena.Handle, error) {
		if depth == 0 {
			return e.allocUint64(parent, 1), nil
		}
		if err := ctx.Err(); err != nil {
			return scopearena.NullHandle, err
		}

		child := parent.NewChild()
		e.c.scopes.Add(1)
		defer child.DestroyChild()

		for i := range p.Handles {
			e.alloc(child, p.AllocSize, byte(depth+i))
		}

		var sum uint64
		for range p.Children {
			h, err := walk(child, depth-1)
			if err != nil {
				return scopearena.NullHandle, err
			}
			v, err := e.readUint64(child, h)
			if err != nil {
				return scopearena.NullHandle, err
			}
			sum += v
		}

		res := e.allocUint64(child, sum)
		return e.promote(parent, child, res), nil
	}

	want := uint64(1)
	for range p.Depth {
		want *= uint64(p.Children)
	}

	for range p.Iterations {
		h, err := walk(e.root, p.Depth)
		if err != nil {
			return err
		}
		got, err := e.readUint64(e.root, h)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("tree walk counted %d leaves, want %d", got, want)
		}
	}
	e.flush()
	return nil
}

func eventLoop(ctx context.Context, e *env) error {
	p := e.p
	var (
		fired      atomic.Int64
		registered int64
	)

	for tick := range p.Iterations {
		if err := ctx.Err(); err != nil {
			return err
		}

		for range p.Handles {
			e.alloc(e.root, p.AllocSize, byte(tick))
		}
		e.root.OnCleanup(0, func() { fired.Add(1) })
		e.root.OnCleanup(1, func() { fired.Add(1) })
		registered += 2

		if p.ResetEvery > 0 && (tick+1)%p.ResetEvery == 0 {
			e.root.Reset()
			e.c.resets.Add(1)
			if n := e.root.LiveCount(); n != 0 {
				return fmt.Errorf("%d live entries after reset", n)
			}
			if got := fired.Load(); got != registered {
				return fmt.Errorf("%d cleanups ran, want %d", got, registered)
			}
			e.flush()
		}
	}

	h := e.root.NewString("post-reset-data")
	e.c.allocs.Add(1)
	if s, ok := e.root.ReadString(h); !ok || s != "post-reset-data" {
		return fmt.Errorf("post-reset read returned %q", s)
	}
	e.c.verified.Add(1)
	return nil
}

func concurrentArenas(ctx context.Context, e *env) error {
	p := e.p
	var (
		mu       sync.Mutex
		promoted []scopearena.Handle
		want     []byte
	)

	g, ctx := errgroup.WithContext(ctx)
	for w := range p.Workers {
		g.Go(func() error {
			child := e.root.NewChild()
			e.c.scopes.Add(1)
			defer child.DestroyChild()

			var cur scopearena.Handle
			for i := range p.Iterations {
				if err := ctx.Err(); err != nil {
					return err
				}

				b := byte(w*31 + i)
				cur = e.replace(child, cur, p.AllocSize, b)
				if err := e.check(child, cur, p.AllocSize, b); err != nil {
					return err
				}

				if i%p.PromoteEvery == 0 {
					h := e.alloc(child, p.AllocSize, b^0xff)
					ph := e.promote(e.root, child, h)
					mu.Lock()
					promoted = append(promoted, ph)
					want = append(want, b^0xff)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.flush()
	for i, h := range promoted {
		if err := e.check(e.root, h, p.AllocSize, want[i]); err != nil {
			return err
		}
	}
	return nil
}
