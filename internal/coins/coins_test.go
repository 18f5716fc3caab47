package coins

import (
	"errors"
	"math/rand"
	"testing"

	"goldprime.ai/internal/wire"
)

func TestNew_ClampsToMax(t *testing.T) {
	c := New(50, 10)
	if c.Held() != 10 || c.SpaceLeft() != 0 {
		t.Fatalf("held=%d space=%d", c.Held(), c.SpaceLeft())
	}
}

func TestDeductAndAddUpTo_Saturate(t *testing.T) {
	c := New(30, 100)
	if got := c.deductUpTo(50); got != 30 {
		t.Fatalf("deductUpTo=%d want 30", got)
	}
	if c.Held() != 0 {
		t.Fatalf("held=%d want 0", c.Held())
	}
	if got := c.addUpTo(250); got != 100 {
		t.Fatalf("addUpTo=%d want 100", got)
	}
	if !c.IsFull() {
		t.Fatalf("expected full ledger")
	}
}

func TestTryDeductThenTryAdd_RestoresHeld(t *testing.T) {
	for _, n := range []Int{0, 1, 499, 500} {
		c := New(500, 1000)
		if !c.tryDeduct(n) {
			t.Fatalf("tryDeduct(%d) failed", n)
		}
		if !c.tryAdd(n) {
			t.Fatalf("tryAdd(%d) failed", n)
		}
		if c.Held() != 500 {
			t.Fatalf("n=%d held=%d want 500", n, c.Held())
		}
	}
}

func TestTryOps_AllOrNothing(t *testing.T) {
	c := New(10, 20)
	if c.tryDeduct(11) {
		t.Fatalf("tryDeduct beyond held succeeded")
	}
	if c.tryAdd(11) {
		t.Fatalf("tryAdd beyond space succeeded")
	}
	if c.Held() != 10 {
		t.Fatalf("held=%d mutated by failed op", c.Held())
	}
}

func TestTryTransfer_FailsWithoutMutation(t *testing.T) {
	src := New(100, 1000)
	dst := New(95, 100)
	if src.TryTransfer(10, &dst) {
		t.Fatalf("transfer exceeding destination space succeeded")
	}
	if src.Held() != 100 || dst.Held() != 95 {
		t.Fatalf("src=%d dst=%d", src.Held(), dst.Held())
	}
	if src.TryTransfer(101, &dst) {
		t.Fatalf("transfer exceeding source succeeded")
	}
	if !src.TryTransfer(5, &dst) {
		t.Fatalf("valid transfer failed")
	}
	if src.Held() != 95 || dst.Held() != 100 {
		t.Fatalf("src=%d dst=%d", src.Held(), dst.Held())
	}
}

func TestTransferUpTo_BoundedByBothSides(t *testing.T) {
	src := New(40, 1000)
	dst := New(90, 100)
	if got := src.TransferUpTo(1000, &dst); got != 10 {
		t.Fatalf("moved=%d want 10", got)
	}
	if got := src.TransferUpTo(5, &src); got != 0 {
		t.Fatalf("self transfer moved %d", got)
	}
	if got := src.TransferUpTo(5, nil); got != 0 {
		t.Fatalf("nil transfer moved %d", got)
	}
}

func TestTransfers_ConserveTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ledgers := []Coins{New(1000, 5000), New(0, 300), New(2500, 2500), New(17, 100000)}
	sum := func() Int {
		var s Int
		for i := range ledgers {
			s += ledgers[i].Held()
		}
		return s
	}
	want := sum()
	for i := 0; i < 10000; i++ {
		a := rng.Intn(len(ledgers))
		b := rng.Intn(len(ledgers))
		n := Int(rng.Intn(3000))
		if rng.Intn(2) == 0 {
			ledgers[a].TransferUpTo(n, &ledgers[b])
		} else {
			ledgers[a].TryTransfer(n, &ledgers[b])
		}
		if got := sum(); got != want {
			t.Fatalf("step %d: total=%d want %d", i, got, want)
		}
		if want > MaxCoins {
			t.Fatalf("total exceeds MaxCoins")
		}
		for j := range ledgers {
			if ledgers[j].Held() > ledgers[j].Max() {
				t.Fatalf("ledger %d over max", j)
			}
		}
	}
}

func TestFiat_CreateAndDestroy(t *testing.T) {
	c := Empty(1000)
	if !c.CreateMoreByFiat(600) {
		t.Fatalf("create failed")
	}
	if c.CreateMoreByFiat(401) {
		t.Fatalf("create beyond max succeeded")
	}
	if c.DestroySomeByFiat(601) {
		t.Fatalf("destroy beyond held succeeded")
	}
	if !c.DestroySomeByFiat(600) || c.Held() != 0 {
		t.Fatalf("destroy failed, held=%d", c.Held())
	}
}

func TestPackUnpack_HeldOnly(t *testing.T) {
	src := New(1234, 5000)
	w := wire.NewWriter(8)
	src.Pack(w)
	if w.Len() != 8 {
		t.Fatalf("packed len=%d want 8", w.Len())
	}

	dst := Empty(5000)
	r := wire.NewReader(w.Bytes())
	dst.Unpack(r)
	if r.Err() != nil || dst.Held() != 1234 {
		t.Fatalf("err=%v held=%d", r.Err(), dst.Held())
	}

	small := Empty(100)
	r = wire.NewReader(w.Bytes())
	small.Unpack(r)
	if !errors.Is(r.Err(), ErrExceedsMax) {
		t.Fatalf("err=%v want ErrExceedsMax", r.Err())
	}
}

func TestDollarString(t *testing.T) {
	if got := DollarString(1250); got != "$1.250" {
		t.Fatalf("got %q", got)
	}
	if got := DollarString(7); got != "$0.007" {
		t.Fatalf("got %q", got)
	}
}
