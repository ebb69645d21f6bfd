package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
)

func TestPublisher_NewEvent(t *testing.T) {
	p := NewPublisherFromConn(nil, "", nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := apiclient.ExecutionLogItem{
		ID:       "6f1c",
		Method:   "GET",
		URL:      "https://api.product.dev.alertlogic.com/cargo/v2/2",
		Status:   200,
		Bytes:    512,
		Duration: 40 * time.Millisecond,
		At:       at,
	}

	event := p.NewEvent(item)
	if event.Subject != "apiclient.execution.get" {
		t.Errorf("subject = %s", event.Subject)
	}
	if event.ID != "6f1c" || !event.Timestamp.Equal(at) {
		t.Errorf("event = %+v", event)
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Data.URL != item.URL || decoded.Data.Bytes != 512 {
		t.Errorf("decoded data = %+v", decoded.Data)
	}
}

func TestPublisher_CustomSubject(t *testing.T) {
	p := NewPublisherFromConn(nil, "tenant.calls", nil)
	if got := p.SubjectFor(apiclient.ExecutionLogItem{Method: "POST"}); got != "tenant.calls.post" {
		t.Errorf("subject = %s", got)
	}
}
