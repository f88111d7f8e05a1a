package network

import "testing"

func TestBroadcast_AcceptsAnyFrame(t *testing.T) {
	addr := []byte{1, 2, 3, 4}
	scheme := payloadScheme(t)
	br := NewBroadcast(addr, 4)
	if err := br.InitConnection(scheme, 0, &fakeSink{}, nil, Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}

	frame := Frame{{Headers: map[string]any{"payload": []byte("HELLOART")}}}
	meta := Meta{}
	if err := br.ProcessSend(&frame, meta, SendOptions{}); err != nil {
		t.Fatalf("process send: %v", err)
	}
	if len(frame) != 1 {
		t.Fatalf("expected no extra layer pushed, got %d layers", len(frame))
	}

	ok, err := br.ProcessRecv(&frame, Meta{})
	if err != nil {
		t.Fatalf("process recv: %v", err)
	}
	if !ok {
		t.Fatalf("expected broadcast frame to always be accepted")
	}
}
