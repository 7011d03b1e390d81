package timer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/domain"
)

func TestReleasedEvent(t *testing.T) {
	at := time.Date(2026, 3, 14, 18, 15, 0, 0, time.UTC)
	ev, err := releasedEvent("B1", "S1", at)
	if err != nil {
		t.Fatalf("releasedEvent: %v", err)
	}
	if ev.AggregateID != "B1" || ev.Type != domain.EventBookingReleased {
		t.Fatalf("unexpected event %+v", ev)
	}
	var got domain.BookingReleased
	if err := json.Unmarshal(ev.Payload, &got); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if got.BookingID != "B1" || got.ShowID != "S1" || !got.Released.Equal(at) {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestReleasedEvent_EncodeError(t *testing.T) {
	// encoding/json refuses years past 9999.
	ev, err := releasedEvent("B1", "S1", time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected encode error")
	}
	if ev != nil {
		t.Errorf("expected no event on error, got %+v", ev)
	}
}
