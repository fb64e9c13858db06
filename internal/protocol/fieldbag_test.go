package protocol

import (
	"testing"
)

func TestFieldBagOrderAndOverwrite(t *testing.T) {
	b := NewFieldBag()
	b.Set("pin", "1001")
	b.Set("time", "2025-01-30 08:30:00")
	b.Set("status", "0")
	b.Set("pin", "2002") // 覆盖不改变顺序

	keys := b.Keys()
	if len(keys) != 3 {
		t.Fatalf("len(keys)=%d, want 3", len(keys))
	}
	if keys[0] != "pin" || keys[1] != "time" || keys[2] != "status" {
		t.Fatalf("keys=%v", keys)
	}
	if v, _ := b.Get("pin"); v != "2002" {
		t.Fatalf("pin=%q, want 2002", v)
	}
}

func TestFieldBagTypedAccess(t *testing.T) {
	b := NewFieldBag()
	b.Set("n", "42")
	b.Set("big", "9223372036854775807")
	b.Set("f", "36.5")
	b.Set("junk", "abc")

	if v, ok := b.GetInt("n"); !ok || v != 42 {
		t.Fatalf("GetInt(n)=%d,%v", v, ok)
	}
	if v, ok := b.GetInt64("big"); !ok || v != 9223372036854775807 {
		t.Fatalf("GetInt64(big)=%d,%v", v, ok)
	}
	if v, ok := b.GetDecimal("f"); !ok || v != 36.5 {
		t.Fatalf("GetDecimal(f)=%v,%v", v, ok)
	}
	if _, ok := b.GetInt("junk"); ok {
		t.Fatal("GetInt(junk) should fail")
	}
	if _, ok := b.GetInt("missing"); ok {
		t.Fatal("GetInt(missing) should fail")
	}
}

func TestFieldBagEqual(t *testing.T) {
	a := NewFieldBag()
	a.Set("x", "1")
	a.Set("y", "2")

	b := NewFieldBag()
	b.Set("x", "1")
	b.Set("y", "2")

	if !a.Equal(b) {
		t.Fatal("identical bags should be equal")
	}

	// 同值不同顺序不相等
	c := NewFieldBag()
	c.Set("y", "2")
	c.Set("x", "1")
	if a.Equal(c) {
		t.Fatal("different key order should not be equal")
	}
}

func TestCentsToAmount(t *testing.T) {
	cases := []struct {
		cents int64
		want  float64
	}{
		{1500, 15.00},
		{1, 0.01},
		{0, 0},
		{12345, 123.45},
	}
	for _, tc := range cases {
		if got := CentsToAmount(tc.cents); got != tc.want {
			t.Fatalf("CentsToAmount(%d)=%v, want %v", tc.cents, got, tc.want)
		}
	}
}
