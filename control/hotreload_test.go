package control

import (
	"testing"
	"time"
)

func TestTriggerHotReload_DispatchesRegisteredHooks(t *testing.T) {
	done := make(chan struct{})
	RegisterReloadHook(func() { close(done) })

	TriggerHotReload()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reload hook to run")
	}
}
