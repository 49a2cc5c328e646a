package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/mirrorlake/steward/pkg/schema"
)

func TestStreamDeliversInOrder(t *testing.T) {
	s := NewStream()
	go func() {
		s.Emit(context.Background(), schema.NewEvent(schema.EventThinking, "first"))
		s.Emit(context.Background(), schema.NewEvent(schema.EventText, "second"))
		s.Close(nil)
	}()

	var got []string
	for ev := range s.Events() {
		got = append(got, ev.Content)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("events = %v", got)
	}
	if s.Aborted() {
		t.Fatal("natural close should not report aborted")
	}
	if s.Err() != nil {
		t.Fatalf("Err = %v, want nil", s.Err())
	}
}

func TestStreamCloseWithError(t *testing.T) {
	s := NewStream()
	wantErr := errors.New("backend down")
	s.Close(wantErr)

	for range s.Events() {
		t.Fatal("no events expected")
	}
	if !errors.Is(s.Err(), wantErr) {
		t.Fatalf("Err = %v, want %v", s.Err(), wantErr)
	}
	if s.Aborted() {
		t.Fatal("failed close should not report aborted")
	}
}

func TestStreamAbortStopsProducer(t *testing.T) {
	s := NewStream()
	s.Abort()

	if s.Emit(context.Background(), schema.NewEvent(schema.EventText, "late")) {
		t.Fatal("Emit after abort should return false")
	}
	if !s.Aborted() {
		t.Fatal("Aborted = false after Abort")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel should be closed after abort")
	}
}

func TestStreamAbortUnblocksBlockedProducer(t *testing.T) {
	s := NewStream()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		// Overfill the buffer so the producer is parked inside Emit when
		// the abort lands, then close from the producer side as every
		// real producer does.
		for {
			if !s.Emit(context.Background(), schema.NewEvent(schema.EventText, "chunk")) {
				s.Close(nil)
				return
			}
		}
	}()

	s.Abort()
	<-stopped

	for range s.Events() {
	}
	if !s.Aborted() {
		t.Fatal("stream should report aborted")
	}
	if s.Err() != nil {
		t.Fatalf("Err = %v, want nil", s.Err())
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	s := NewStream()
	s.Close(nil)
	s.Close(errors.New("second close"))
	s.Abort()

	if s.Err() != nil {
		t.Fatalf("first close wins, Err = %v", s.Err())
	}
	if s.Aborted() {
		t.Fatal("first close wins, Aborted should stay false")
	}
}

func TestStreamEmitHonorsContext(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer so Emit has to block, then rely on the cancelled
	// context to unblock it.
	for i := 0; i < cap(s.events); i++ {
		if !s.Emit(context.Background(), schema.NewEvent(schema.EventText, "fill")) {
			t.Fatal("buffered emit failed")
		}
	}
	if s.Emit(ctx, schema.NewEvent(schema.EventText, "blocked")) {
		t.Fatal("Emit with cancelled context should return false")
	}
}

func TestMockProviderAbortEndsStream(t *testing.T) {
	// More events than the stream buffer holds, so the producer cannot
	// finish before the abort lands.
	events := make([]schema.AgentEvent, 0, 40)
	for i := 0; i < 40; i++ {
		events = append(events, schema.NewEvent(schema.EventText, "chunk"))
	}
	p := NewMockProvider(Info{Name: "mock"}, MockSession{Events: events})

	task := &schema.TaskContext{JobID: "job-abort"}
	stream, err := p.Execute(context.Background(), task, "prompt")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	<-stream.Events()
	p.Abort("job-abort")

	for range stream.Events() {
	}
	if !stream.Aborted() {
		t.Fatal("stream should report aborted")
	}
}
