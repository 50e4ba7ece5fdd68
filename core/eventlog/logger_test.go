package eventlog

import (
	"log"
	"strings"
	"testing"

	"github.com/pluginforge/core/events"
)

func TestPublishDispatchWritesJSONLine(t *testing.T) {
	var sb strings.Builder
	p := &LogPublisher{logger: log.New(&sb, "", 0)}

	if err := p.PublishDispatch(events.EventTypeID(42), 3, 1); err != nil {
		t.Fatalf("PublishDispatch returned error: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, `"event_type_id":42`) {
		t.Fatalf("output missing event_type_id: %s", out)
	}
	if !strings.Contains(out, `"fired_count":3`) {
		t.Fatalf("output missing fired_count: %s", out)
	}
	if !strings.Contains(out, `"failed_count":1`) {
		t.Fatalf("output missing failed_count: %s", out)
	}
}
