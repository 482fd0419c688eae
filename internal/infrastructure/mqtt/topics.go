package mqtt

import "strings"

// topicPrefix roots every Emberlink topic.
const topicPrefix = "emberlink"

// TopicAllStates is the wildcard subscription covering every device
// state topic: emberlink/state/{area}/{device}.
func TopicAllStates() string {
	return topicPrefix + "/state/+/+"
}

// TopicState builds the state topic for one device.
func TopicState(area, device string) string {
	return topicPrefix + "/state/" + area + "/" + device
}

// ParseStateTopic splits emberlink/state/{area}/{device} into its parts.
func ParseStateTopic(topic string) (area, device string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != topicPrefix || parts[1] != "state" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
