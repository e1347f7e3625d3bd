// Package topic implements the Sparkplug B topic namespace:
// spBv1.0/{group}/{message_type}/{edge_node}[/{device}] and STATE/{host}.
package topic

import "strings"

// Namespace is the fixed first segment of every Sparkplug B topic.
const Namespace = "spBv1.0"

// StatePrefix is the first segment of host application state topics.
const StatePrefix = "STATE"

type MessageType uint8

const (
	TypeInvalid MessageType = iota
	NBirth
	NDeath
	NData
	NCmd
	DBirth
	DDeath
	DData
	DCmd
	State
)

var typeTokens = map[MessageType]string{
	NBirth: "NBIRTH",
	NDeath: "NDEATH",
	NData:  "NDATA",
	NCmd:   "NCMD",
	DBirth: "DBIRTH",
	DDeath: "DDEATH",
	DData:  "DDATA",
	DCmd:   "DCMD",
	State:  "STATE",
}

func (mt MessageType) String() string {
	if s, ok := typeTokens[mt]; ok {
		return s
	}
	return "INVALID"
}

// ParseMessageType maps a topic token to its MessageType.
func ParseMessageType(s string) (MessageType, error) {
	for mt, token := range typeTokens {
		if s == token {
			return mt, nil
		}
	}
	return TypeInvalid, &InvalidTopicError{Reason: "unknown message type: " + s}
}

func (mt MessageType) IsNodeLevel() bool {
	return mt == NBirth || mt == NDeath || mt == NData || mt == NCmd
}

func (mt MessageType) IsDeviceLevel() bool {
	return mt == DBirth || mt == DDeath || mt == DData || mt == DCmd
}

func (mt MessageType) IsBirth() bool   { return mt == NBirth || mt == DBirth }
func (mt MessageType) IsDeath() bool   { return mt == NDeath || mt == DDeath }
func (mt MessageType) IsData() bool    { return mt == NData || mt == DData }
func (mt MessageType) IsCommand() bool { return mt == NCmd || mt == DCmd }

// InvalidTopicError covers every grammar violation; Reason is human text.
type InvalidTopicError struct {
	Topic  string
	Reason string
}

func (e *InvalidTopicError) Error() string {
	if e.Topic == "" {
		return "invalid topic: " + e.Reason
	}
	return "invalid topic " + e.Topic + ": " + e.Reason
}

// Topic is a parsed Sparkplug topic. For Type==State only HostID is set,
// for node-level types Device is empty.
type Topic struct {
	Type     MessageType
	Group    string
	EdgeNode string
	Device   string
	HostID   string
}

// Parse accepts the two topic shapes of the Sparkplug B namespace.
// It never returns a partial Topic together with an error.
func Parse(s string) (Topic, error) {
	parts := strings.Split(s, "/")

	if len(parts) == 2 && parts[0] == StatePrefix {
		return Topic{Type: State, HostID: parts[1]}, nil
	}

	if len(parts) < 4 {
		return Topic{}, &InvalidTopicError{Topic: s, Reason: "want 4 or 5 segments"}
	}
	if len(parts) > 5 {
		return Topic{}, &InvalidTopicError{Topic: s, Reason: "want 4 or 5 segments"}
	}
	if parts[0] != Namespace {
		return Topic{}, &InvalidTopicError{Topic: s, Reason: "namespace must be " + Namespace}
	}
	mt, err := ParseMessageType(parts[2])
	if err != nil {
		return Topic{}, &InvalidTopicError{Topic: s, Reason: err.(*InvalidTopicError).Reason}
	}
	if mt == State {
		return Topic{}, &InvalidTopicError{Topic: s, Reason: "STATE inside " + Namespace + " namespace"}
	}

	t := Topic{
		Type:     mt,
		Group:    parts[1],
		EdgeNode: parts[3],
	}
	if len(parts) == 5 {
		if parts[4] == "" {
			return Topic{}, &InvalidTopicError{Topic: s, Reason: "empty device id"}
		}
		t.Device = parts[4]
	}

	if mt.IsDeviceLevel() && t.Device == "" {
		return Topic{}, &InvalidTopicError{Topic: s, Reason: mt.String() + " requires a device id"}
	}
	if mt.IsNodeLevel() && t.Device != "" {
		return Topic{}, &InvalidTopicError{Topic: s, Reason: mt.String() + " forbids a device id"}
	}
	return t, nil
}

// String is the inverse of Parse for any value Parse accepts.
func (t Topic) String() string {
	if t.Type == State {
		return StatePrefix + "/" + t.HostID
	}
	s := Namespace + "/" + t.Group + "/" + t.Type.String() + "/" + t.EdgeNode
	if t.Device != "" {
		s += "/" + t.Device
	}
	return s
}

func NodeTopic(group string, mt MessageType, edgeNode string) Topic {
	return Topic{Type: mt, Group: group, EdgeNode: edgeNode}
}

func DeviceTopic(group string, mt MessageType, edgeNode, device string) Topic {
	return Topic{Type: mt, Group: group, EdgeNode: edgeNode, Device: device}
}

func StateTopic(hostID string) Topic {
	return Topic{Type: State, HostID: hostID}
}

// MQTT subscription filters.

// GroupFilter matches all Sparkplug messages in a group.
func GroupFilter(group string) string { return Namespace + "/" + group + "/#" }

// NodeFilter matches all messages of one edge node, device-level included.
func NodeFilter(group, edgeNode string) string {
	return Namespace + "/" + group + "/+/" + edgeNode + "/#"
}

// StateFilter matches state announcements of one host application.
func StateFilter(hostID string) string { return StatePrefix + "/" + hostID }
