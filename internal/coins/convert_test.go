package coins

import (
	"errors"
	"testing"
)

func TestWeiDepositStringToCoinsInt(t *testing.T) {
	cases := []struct {
		wei  string
		want Int
	}{
		{"1000000000000000000", 1000},
		{"999999999999999999", 999},
		{"1000000000000000", 1},
		{"999999999999999", 0},
		{"0", 0},
		{"2000000000000000000", 2000},
		{"5000000000000000000", 5000},
		{" 1000000000000000 ", 1},
	}
	for _, tc := range cases {
		got, err := WeiDepositStringToCoinsInt(tc.wei)
		if err != nil {
			t.Fatalf("%q: %v", tc.wei, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %d want %d", tc.wei, got, tc.want)
		}
	}
}

func TestWeiDepositStringToCoinsInt_Rejects(t *testing.T) {
	for _, s := range []string{"", "abc", "-1000000000000000", "1e18", "1.5", "99999999999999999999999999999999999999999"} {
		if _, err := WeiDepositStringToCoinsInt(s); !errors.Is(err, ErrMalformedWei) {
			t.Fatalf("%q: err=%v want ErrMalformedWei", s, err)
		}
	}
}

func TestWeiConversion_Monotonic(t *testing.T) {
	prev := Int(0)
	for _, s := range []string{"0", "1", "999999999999999", "1000000000000000", "1999999999999999", "2000000000000000", "1000000000000000000"} {
		got, err := WeiDepositStringToCoinsInt(s)
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}
		if got < prev {
			t.Fatalf("%q: %d < previous %d", s, got, prev)
		}
		prev = got
	}
}

func TestCoinsIntToWeiDepositString_RoundTrip(t *testing.T) {
	for _, c := range []Int{0, 1, 999, 1000, 123456789} {
		wei := CoinsIntToWeiDepositString(c)
		back, err := WeiDepositStringToCoinsInt(wei)
		if err != nil {
			t.Fatalf("%d: %v", c, err)
		}
		if back != c {
			t.Fatalf("%d -> %s -> %d", c, wei, back)
		}
	}
	if got := CoinsIntToWeiDepositString(500); got != "500000000000000000" {
		t.Fatalf("got %s", got)
	}
}
