package pool

import (
	"testing"

	logx "scraperd/pkg/logx"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()
	p := New([]string{"a", "b"}, logx.Nop())
	if p.Size() != 2 || p.Free() != 2 {
		t.Fatalf("size=%d free=%d, want 2/2", p.Size(), p.Free())
	}

	t1, ok := p.Acquire()
	if !ok {
		t.Fatal("first acquire failed")
	}
	t2, ok := p.Acquire()
	if !ok {
		t.Fatal("second acquire failed")
	}
	if t1 == t2 {
		t.Fatalf("acquired the same token twice: %s", t1)
	}
	if _, ok := p.Acquire(); ok {
		t.Fatal("acquire succeeded on an exhausted pool")
	}
	if p.Free() != 0 {
		t.Fatalf("free=%d, want 0", p.Free())
	}

	p.Release(t1)
	if p.Free() != 1 {
		t.Fatalf("free=%d after release, want 1", p.Free())
	}
	got, ok := p.Acquire()
	if !ok || got != t1 {
		t.Fatalf("reacquire = %q/%v, want %q", got, ok, t1)
	}
}

func TestReleaseGuards(t *testing.T) {
	t.Parallel()
	p := New([]string{"a"}, logx.Nop())

	// Unknown token is refused; free count stays intact.
	p.Release("nope")
	if p.Free() != 1 {
		t.Fatalf("free=%d after unknown release, want 1", p.Free())
	}

	tok, _ := p.Acquire()
	p.Release(tok)
	p.Release(tok)
	if p.Free() != 1 {
		t.Fatalf("free=%d after double release, want 1", p.Free())
	}
}

func TestNewDedupesAndFallsBack(t *testing.T) {
	t.Parallel()
	p := New([]string{"a", "a", "b"}, logx.Nop())
	if p.Size() != 2 {
		t.Fatalf("size=%d with duplicate tokens, want 2", p.Size())
	}

	empty := New(nil, logx.Nop())
	if empty.Size() != 1 {
		t.Fatalf("size=%d for empty token list, want 1 synthetic token", empty.Size())
	}
	tok, ok := empty.Acquire()
	if !ok || tok != DefaultToken {
		t.Fatalf("acquire = %q/%v, want %q", tok, ok, DefaultToken)
	}
}
