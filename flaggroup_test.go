// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package mbserial

import (
	"errors"
	"testing"
	"time"
)

func TestFlagGroupPostThenPend(t *testing.T) {
	g := NewFlagGroup()
	g.Post(0x05)
	got, err := g.PendAny(0x01, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x01 {
		t.Fatalf("got %#x, want 0x01", got)
	}
	// The untouched bit is still pendable.
	got, err = g.PendAny(0x04, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x04 {
		t.Fatalf("got %#x, want 0x04", got)
	}
}

func TestFlagGroupPendWakesOnPost(t *testing.T) {
	g := NewFlagGroup()
	done := make(chan Flags, 1)
	go func() {
		got, err := g.PendAny(0x02, 5*time.Second)
		if err != nil {
			done <- 0
			return
		}
		done <- got
	}()
	time.Sleep(10 * time.Millisecond)
	g.Post(0x02)
	select {
	case got := <-done:
		if got != 0x02 {
			t.Fatalf("got %#x, want 0x02", got)
		}
	case <-time.After(time.Second):
		t.Fatal("pend did not wake")
	}
}

func TestFlagGroupTimeout(t *testing.T) {
	g := NewFlagGroup()
	start := time.Now()
	_, err := g.PendAny(0x01, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, actual %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("pend returned before the timeout")
	}
}

func TestFlagGroupClear(t *testing.T) {
	g := NewFlagGroup()
	g.Post(0x03)
	g.Clear(0x01)
	if _, err := g.PendAny(0x01, 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("cleared bit still pendable: %v", err)
	}
	if got, err := g.PendAny(0x02, time.Second); err != nil || got != 0x02 {
		t.Fatalf("got %#x err %v", got, err)
	}
}
