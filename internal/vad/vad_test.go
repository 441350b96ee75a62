package vad

import (
	"math"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	v := New()
	if v.threshold != DefaultThreshold {
		t.Errorf("threshold: got %f, want %f", v.threshold, DefaultThreshold)
	}
	if v.hangover != DefaultHangover {
		t.Errorf("hangover: got %d, want %d", v.hangover, DefaultHangover)
	}
	if !v.Enabled() {
		t.Error("expected enabled by default")
	}
}

func TestShouldSendDisabled(t *testing.T) {
	v := New()
	v.SetEnabled(false)
	if !v.ShouldSend(0) {
		t.Error("disabled VAD should always return true")
	}
	if !v.ShouldSendFrame(make([]int16, 320)) {
		t.Error("disabled VAD should always return true")
	}
}

func TestShouldSendSpeech(t *testing.T) {
	v := New()
	if !v.ShouldSend(DefaultThreshold * 2) {
		t.Error("speech frame should return true")
	}
}

func TestShouldSendSilence(t *testing.T) {
	v := New()
	for range DefaultHangover + 1 {
		v.ShouldSend(0)
	}
	if v.ShouldSend(0) {
		t.Error("silent frame after hangover expired should return false")
	}
}

func TestHangoverDelay(t *testing.T) {
	v := New()
	v.ShouldSend(DefaultThreshold * 10)
	for i := range DefaultHangover {
		if !v.ShouldSend(0) {
			t.Errorf("hangover frame %d should still return true", i)
		}
	}
	if v.ShouldSend(0) {
		t.Error("frame after hangover should return false")
	}
}

func TestHangoverResetOnSpeech(t *testing.T) {
	v := New()
	v.ShouldSend(DefaultThreshold * 10)
	for range DefaultHangover - 1 {
		v.ShouldSend(0)
	}
	v.ShouldSend(DefaultThreshold * 10)
	for i := range DefaultHangover {
		if !v.ShouldSend(0) {
			t.Errorf("hangover frame %d after speech reset should return true", i)
		}
	}
}

func TestSetHangover(t *testing.T) {
	v := New()
	v.SetHangover(2)
	v.ShouldSend(1)
	if !v.ShouldSend(0) || !v.ShouldSend(0) {
		t.Error("expected two hangover frames")
	}
	if v.ShouldSend(0) {
		t.Error("expected silence after two hangover frames")
	}
	v.SetHangover(-5)
	v.ShouldSend(1)
	if v.ShouldSend(0) {
		t.Error("negative hangover should behave as zero")
	}
}

func TestSetThreshold(t *testing.T) {
	v := New()
	v.SetThreshold(0.1)
	if v.ShouldSend(0.05) {
		t.Error("0.05 should be silence at threshold 0.1")
	}
	v.SetThreshold(-1)
	if v.threshold != 0 {
		t.Errorf("negative threshold: got %f, want 0", v.threshold)
	}
}

func TestShouldSendFrame(t *testing.T) {
	v := New()
	v.SetHangover(0)

	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	if !v.ShouldSendFrame(loud) {
		t.Error("loud frame should be sent")
	}
	if v.ShouldSendFrame(make([]int16, 320)) {
		t.Error("silent frame should be skipped")
	}
}

func TestReset(t *testing.T) {
	v := New()
	v.ShouldSend(DefaultThreshold * 10) // sets remaining = DefaultHangover
	v.Reset()
	// remaining starts at 0 post-Reset, so the first silence frame returns false.
	if v.ShouldSend(0) {
		t.Error("first silence after Reset should return false")
	}
}
