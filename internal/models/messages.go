// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// MessageType discriminates realtime messages.
type MessageType string

const (
	MsgJointInvite        MessageType = "joint_invite"
	MsgInviteStatus       MessageType = "invite_status"
	MsgJointProgress      MessageType = "joint_progress"
	MsgJointSessionEnded  MessageType = "joint_session_ended"
	MsgJointLeave         MessageType = "joint_leave"
	MsgLiveSessionUpdate  MessageType = "live_session_update"
	MsgFriendSessionEnded MessageType = "friend_session_ended"
)

// ErrUnknownMessageType is returned by DecodeMessage for message types the
// core does not understand. The transport logs and drops such messages.
var ErrUnknownMessageType = errors.New("unknown realtime message type")

// InviteStatus values carried by MsgInviteStatus.
const (
	InviteAccepted     = "accepted"
	InviteDeclined     = "declined"
	InviteSessionEnded = "session_ended"
)

// JointInvitePayload announces an incoming joint-session invitation.
type JointInvitePayload struct {
	InviteID     string `json:"invite_id"`
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	SessionID    string `json:"session_id,omitempty"`
}

// InviteStatusPayload reports the fate of an invitation this user sent.
// Session is present when Status is "accepted".
type InviteStatusPayload struct {
	InviteID string        `json:"invite_id"`
	Status   string        `json:"status"`
	Session  *JointSession `json:"session,omitempty"`
}

// JointProgressPayload broadcasts one participant's position in their
// workout. ExerciseNames, when present, replaces the sender's exercise list
// wholesale on the receiving side.
type JointProgressPayload struct {
	SessionID     string   `json:"session_id"`
	FromUserID    string   `json:"from_user_id"`
	ExerciseIndex int      `json:"exercise_index"`
	SetIndex      int      `json:"set_index"`
	ExerciseName  string   `json:"exercise_name,omitempty"`
	ReadyForNext  bool     `json:"ready_for_next"`
	ExerciseNames []string `json:"exercise_names,omitempty"`
}

// JointSessionEndedPayload signals that the joint session is over.
type JointSessionEndedPayload struct {
	SessionID string `json:"session_id"`
}

// JointLeavePayload notifies the partner that the sender left.
type JointLeavePayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// LiveSessionUpdatePayload pushes a fresh snapshot of a watched session.
type LiveSessionUpdatePayload struct {
	FriendID string       `json:"friend_id"`
	Session  *LiveSession `json:"session"`
}

// FriendSessionEndedPayload signals that a watched session ended.
type FriendSessionEndedPayload struct {
	FriendID  string `json:"friend_id"`
	SessionID string `json:"session_id"`
}

// Message is the decoded realtime envelope. Exactly one payload pointer
// matching Type is non-nil.
type Message struct {
	Type MessageType

	JointInvite        *JointInvitePayload
	InviteStatus       *InviteStatusPayload
	JointProgress      *JointProgressPayload
	JointSessionEnded  *JointSessionEndedPayload
	JointLeave         *JointLeavePayload
	LiveSessionUpdate  *LiveSessionUpdatePayload
	FriendSessionEnded *FriendSessionEndedPayload
}

// envelope is the wire shape: a type discriminator plus a raw payload.
type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeMessage parses wire bytes into a Message. Unknown types return
// ErrUnknownMessageType; malformed payloads return a decode error. Callers
// log and drop either case.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	msg := Message{Type: env.Type}
	var err error
	switch env.Type {
	case MsgJointInvite:
		msg.JointInvite = &JointInvitePayload{}
		err = json.Unmarshal(env.Payload, msg.JointInvite)
	case MsgInviteStatus:
		msg.InviteStatus = &InviteStatusPayload{}
		err = json.Unmarshal(env.Payload, msg.InviteStatus)
	case MsgJointProgress:
		msg.JointProgress = &JointProgressPayload{}
		err = json.Unmarshal(env.Payload, msg.JointProgress)
	case MsgJointSessionEnded:
		msg.JointSessionEnded = &JointSessionEndedPayload{}
		err = json.Unmarshal(env.Payload, msg.JointSessionEnded)
	case MsgJointLeave:
		msg.JointLeave = &JointLeavePayload{}
		err = json.Unmarshal(env.Payload, msg.JointLeave)
	case MsgLiveSessionUpdate:
		msg.LiveSessionUpdate = &LiveSessionUpdatePayload{}
		err = json.Unmarshal(env.Payload, msg.LiveSessionUpdate)
	case MsgFriendSessionEnded:
		msg.FriendSessionEnded = &FriendSessionEndedPayload{}
		err = json.Unmarshal(env.Payload, msg.FriendSessionEnded)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	if err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

// EncodeMessage serializes a Message into the wire envelope.
func EncodeMessage(msg Message) ([]byte, error) {
	var payload any
	switch msg.Type {
	case MsgJointInvite:
		payload = msg.JointInvite
	case MsgInviteStatus:
		payload = msg.InviteStatus
	case MsgJointProgress:
		payload = msg.JointProgress
	case MsgJointSessionEnded:
		payload = msg.JointSessionEnded
	case MsgJointLeave:
		payload = msg.JointLeave
	case MsgLiveSessionUpdate:
		payload = msg.LiveSessionUpdate
	case MsgFriendSessionEnded:
		payload = msg.FriendSessionEnded
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}
	return json.Marshal(envelope{Type: msg.Type, Payload: raw})
}
