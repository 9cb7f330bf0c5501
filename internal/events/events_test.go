package events

import (
	"sync"
	"testing"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.PageStarted("https://a.test/")
	r.ResourceError(-2, "no such host", "https://cdn.a.test/x.js")
	r.PageFinished("https://a.test/")

	if got := r.Started(); len(got) != 1 || got[0] != "https://a.test/" {
		t.Errorf("Started() = %v", got)
	}
	if got := r.Finished(); len(got) != 1 || got[0] != "https://a.test/" {
		t.Errorf("Finished() = %v", got)
	}

	errs := r.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	if errs[0].Code != -2 || errs[0].URL != "https://cdn.a.test/x.js" {
		t.Errorf("Unexpected error record: %+v", errs[0])
	}

	// Returned slices are copies.
	errs[0].Code = 0
	if r.Errors()[0].Code != -2 {
		t.Error("Errors() exposed internal state")
	}
}

func TestRecorderConcurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ResourceError(-1, "x", "https://a.test/")
		}()
	}
	wg.Wait()

	if n := len(r.Errors()); n != 50 {
		t.Errorf("Expected 50 errors, got %d", n)
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi{a, nil, b, LogNotifier{}, Nop{}}

	m.PageStarted("https://a.test/")
	m.PageFinished("https://a.test/")
	m.ResourceError(-8, "timeout", "https://a.test/slow")

	for i, r := range []*Recorder{a, b} {
		if len(r.Started()) != 1 || len(r.Finished()) != 1 || len(r.Errors()) != 1 {
			t.Errorf("recorder %d missed notifications", i)
		}
	}
}
