package reactor

import "testing"

func TestTimerDelayAndRepeat(t *testing.T) {
	var tw timerWheel
	tw.init()
	fires := 0
	id := tw.AddTimer(10, 5, 3, func(int64) bool {
		fires++
		return true
	})
	if id <= 0 {
		t.Fatal("add timer failed")
	}
	tw.Update(9)
	if fires != 0 {
		t.Fatalf("fired early: %d", fires)
	}
	tw.Update(1)
	if fires != 1 {
		t.Fatalf("fires = %d, want 1", fires)
	}
	tw.Update(5)
	tw.Update(5)
	if fires != 3 {
		t.Fatalf("fires = %d, want 3", fires)
	}
	tw.Update(50)
	if fires != 3 {
		t.Fatalf("fired past its repeat count: %d", fires)
	}
}

func TestTimerForeverAndCancelViaReturn(t *testing.T) {
	var tw timerWheel
	tw.init()
	fires := 0
	tw.AddTimer(1, 1, -1, func(int64) bool {
		fires++
		return fires < 4
	})
	tw.Update(100)
	if fires != 4 {
		t.Fatalf("fires = %d, want 4", fires)
	}
}

func TestTimerRemove(t *testing.T) {
	var tw timerWheel
	tw.init()
	fires := 0
	id := tw.AddTimer(5, 5, -1, func(int64) bool {
		fires++
		return true
	})
	tw.Update(6)
	tw.RemoveTimer(id)
	tw.Update(100)
	if fires != 1 {
		t.Fatalf("fires = %d, want 1", fires)
	}
}

func TestTimerRemoveSelfInCallback(t *testing.T) {
	var tw timerWheel
	tw.init()
	fires := 0
	var id int64
	id = tw.AddTimer(1, 1, -1, func(int64) bool {
		fires++
		tw.RemoveTimer(id)
		return true
	})
	tw.Update(10)
	if fires != 1 {
		t.Fatalf("fires = %d, want 1", fires)
	}
}

func TestTimerBadArgs(t *testing.T) {
	var tw timerWheel
	tw.init()
	if id := tw.AddTimer(1, 0, -1, func(int64) bool { return true }); id != 0 {
		t.Fatal("repeating timer without interval accepted")
	}
	if id := tw.AddTimer(1, 0, 1, func(int64) bool { return true }); id == 0 {
		t.Fatal("one-shot timer without interval rejected")
	}
	if id := tw.AddTimer(1, 1, -1, nil); id != 0 {
		t.Fatal("nil callback accepted")
	}
}
