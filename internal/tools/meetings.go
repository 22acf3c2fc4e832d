package tools

import (
	"context"
	"fmt"
	"strings"
)

const (
	ScheduleMeetTool = "schedule_meet_tool"
	CancelMeetTool   = "cancel_meet_tool"
)

// MeetingRooms are the bookable rooms.
var MeetingRooms = []string{"virtual", "tinker_station", "mind_manor"}

type ScheduleMeetInput struct {
	Attendees   []string `json:"attendees" jsonschema:"names or emails of the people to invite"`
	Topic       string   `json:"topic" jsonschema:"what the meeting is about"`
	Date        string   `json:"date" jsonschema:"meeting date, for example 2025-01-31"`
	MeetingRoom string   `json:"meeting_room,omitempty" jsonschema:"room to book"`
	TimeSlot    string   `json:"time_slot,omitempty" jsonschema:"start time or slot, for example 14:00-14:30"`
}

type CancelMeetInput struct {
	MeetID string `json:"meet_id" jsonschema:"identifier of the meeting to cancel"`
}

// ScheduleMeet books a meeting and records it in the session state.
func ScheduleMeet(ctx context.Context, in ScheduleMeetInput) (string, error) {
	if st := StateFrom(ctx); st != nil {
		st.Update(map[string]any{"last_meeting_topic": in.Topic})
	}
	return fmt.Sprintf("Meeting with Topic: '%s' is successfully scheduled. \n\n**Meeting Details**:\n"+
		"Attendees: %s\nMeeting room: %s\nDate: %s\nTime slot: %s",
		in.Topic, strings.Join(in.Attendees, ", "), in.MeetingRoom, in.Date, in.TimeSlot), nil
}

// CancelMeet cancels by id. Ids starting with "a" are cancellable, ids
// starting with "b" belong to meetings already running.
func CancelMeet(ctx context.Context, in CancelMeetInput) (string, error) {
	switch {
	case strings.HasPrefix(in.MeetID, "a"):
		return "Successfully cancelled meeting with ID: " + in.MeetID, nil
	case strings.HasPrefix(in.MeetID, "b"):
		return "The meeting is currently in progress, unable to cancel this meeting.", nil
	default:
		return "An error occurred while cancelling the meeting. Please make sure meeting ID is valid.", nil
	}
}

// RegisterBuiltins adds the meeting tools to r.
func RegisterBuiltins(r *Registry) error {
	schedule, err := Typed(ScheduleMeetTool,
		"Schedule a meeting with the given attendees, topic and date.",
		ScheduleMeet,
		WithEnum("meeting_room", MeetingRooms...),
		WithDefault("meeting_room", "virtual"),
		WithDefault("time_slot", "Now"),
	)
	if err != nil {
		return err
	}
	cancel, err := Typed(CancelMeetTool, "Cancel a meeting by its ID.", CancelMeet)
	if err != nil {
		return err
	}
	for _, t := range []Tool{schedule, cancel} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
