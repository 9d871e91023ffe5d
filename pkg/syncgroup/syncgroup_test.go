package syncgroup

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSyncGroup_RunAndWait(t *testing.T) {
	sg := NewSyncGroup()
	var n int32
	for _, name := range []string{"cashcow", "sniper", "trendkiller", "sniper"} {
		sg.Add(name, func() {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&n, 1)
		})
	}
	sg.Run()

	select {
	case <-sg.WaitC():
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for group")
	}
	if got := atomic.LoadInt32(&n); got != 4 {
		t.Fatalf("got=%d want=4", got)
	}
	if r := sg.Running(); len(r) != 0 {
		t.Fatalf("running got=%v want none", r)
	}
}

func TestSyncGroup_RunningNames(t *testing.T) {
	sg := NewSyncGroup()
	release := make(chan struct{})
	done := make(chan struct{})
	sg.Add("trendkiller", func() { <-release })
	sg.Add("cashcow", func() { close(done) })
	sg.Run()

	<-done
	deadline := time.Now().Add(time.Second)
	for len(sg.Running()) != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r := sg.Running(); len(r) != 1 || r[0] != "trendkiller" {
		t.Fatalf("running got=%v want=[trendkiller]", r)
	}
	close(release)
	sg.Wait()
}
