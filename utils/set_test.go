package utils

import (
	"sync"
	"testing"
)

func TestStringSetAddAndContains(t *testing.T) {
	s := NewStringSet()

	if !s.Add("a") {
		t.Error("first Add(a) should report newly added")
	}
	if s.Add("a") {
		t.Error("second Add(a) should report already present")
	}
	if !s.Contains("a") {
		t.Error("Contains(a) should be true")
	}
	if s.Contains("b") {
		t.Error("Contains(b) should be false")
	}
	if s.Size() != 1 {
		t.Errorf("Size() = %d; want 1", s.Size())
	}
}

func TestStringSetConcurrentAdds(t *testing.T) {
	s := NewStringSet()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, v := range []string{"a", "b", "c"} {
				s.Add(v)
			}
		}()
	}
	wg.Wait()

	if s.Size() != 3 {
		t.Errorf("Size() = %d; want 3", s.Size())
	}
}
