package mqtt

import "testing"

func TestTopicRoundTrip(t *testing.T) {
	topic := TopicState("kitchen", "light-1")
	if topic != "emberlink/state/kitchen/light-1" {
		t.Errorf("TopicState = %q", topic)
	}

	area, device, ok := ParseStateTopic(topic)
	if !ok || area != "kitchen" || device != "light-1" {
		t.Errorf("ParseStateTopic(%q) = %q, %q, %v", topic, area, device, ok)
	}
}

func TestParseStateTopicRejects(t *testing.T) {
	for _, bad := range []string{
		"",
		"emberlink/state/kitchen",
		"emberlink/command/kitchen/light-1",
		"other/state/kitchen/light-1",
		"emberlink/state//light-1",
		"emberlink/state/kitchen/light-1/extra",
	} {
		if _, _, ok := ParseStateTopic(bad); ok {
			t.Errorf("ParseStateTopic(%q) should reject", bad)
		}
	}
}
