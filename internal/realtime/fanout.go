package realtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
)

// Fanout turns domain events into outbound websocket events.
type Fanout struct {
	hub    *Hub
	logger *zap.Logger
}

// NewFanout subscribes the fan-out handlers on d.
func NewFanout(hub *Hub, d events.Dispatcher, logger *zap.Logger) *Fanout {
	f := &Fanout{hub: hub, logger: logger.Named("fanout")}
	d.Subscribe(events.EventMessageCreated, f.onMessageCreated)
	d.Subscribe(events.EventConversationCreated, f.onQueued)
	d.Subscribe(events.EventDepartmentAssigned, f.onQueued)
	d.Subscribe(events.EventConversationAccepted, f.onAccepted)
	d.Subscribe(events.EventConversationTransferred, f.onTransferred)
	d.Subscribe(events.EventConversationClosed, f.onClosed)
	d.Subscribe(events.EventPresenceChanged, f.onPresenceChanged)
	return f
}

// DepartmentAudience is every connection that should see the department's customer list: the
// department room plus every connected agent covering the department. Each connection once.
func (f *Fanout) DepartmentAudience(departmentID int64) []*Client {
	audience := f.hub.Members(DepartmentRoom(departmentID))
	audience = append(audience, f.hub.Clients(func(c *Client) bool {
		return c.Principal.CoversDepartment(departmentID)
	})...)
	return audience
}

func (f *Fanout) onMessageCreated(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessageCreatedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	msg := payload.Message
	f.hub.Broadcast(ConversationRoom(msg.ConversationID), Envelope{
		Type: OutReceiveMessage,
		Payload: ReceiveMessagePayload{
			Message:      msg,
			SenderType:   payload.SenderKind,
			SenderName:   payload.SenderName,
			SenderAvatar: payload.SenderAvatar,
		},
	}, "")

	if payload.SenderKind != domain.SenderClient || payload.ConversationDept == nil {
		return nil
	}
	f.hub.SendTo(f.DepartmentAudience(*payload.ConversationDept), Envelope{
		Type: OutCustomerListUpdate,
		Payload: CustomerListUpdatePayload{
			Action:         ListMoveToTop,
			ConversationID: msg.ConversationID,
			DepartmentID:   payload.ConversationDept,
			ClientID:       payload.ConversationOwner,
			LastMessage:    &msg,
		},
	})
	return nil
}

func (f *Fanout) onQueued(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ConversationPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	conv := payload.Conversation
	if conv.DepartmentID == nil {
		return nil
	}
	f.hub.SendTo(f.DepartmentAudience(*conv.DepartmentID), listUpdate(ListQueued, conv))
	return nil
}

func (f *Fanout) onAccepted(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ConversationPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	conv := payload.Conversation
	if conv.AgentID == nil {
		return fmt.Errorf("accepted conversation %d has no agent", conv.ID)
	}
	room := ConversationRoom(conv.ID)

	var joined *domain.Principal
	for _, c := range f.hub.Members(AgentRoom(*conv.AgentID)) {
		if prev := f.hub.EnterConversation(c, conv.ID); prev != 0 {
			f.hub.Broadcast(ConversationRoom(prev), participant(OutUserLeft, prev, c.Principal, "switched"), c.ID)
		}
		joined = c.Principal
	}
	if joined != nil {
		f.hub.Broadcast(room, participant(OutUserJoined, conv.ID, joined, ""), "")
	}
	f.hub.Broadcast(room, Envelope{Type: OutConversationUpdated, Payload: conv}, "")

	if conv.DepartmentID != nil {
		f.hub.SendTo(f.DepartmentAudience(*conv.DepartmentID), listUpdate(ListRemoved, conv))
	}
	return nil
}

func (f *Fanout) onTransferred(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ConversationPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	conv := payload.Conversation
	room := ConversationRoom(conv.ID)

	if payload.PreviousAgentID != nil {
		var left *domain.Principal
		for _, c := range f.hub.Members(AgentRoom(*payload.PreviousAgentID)) {
			if f.hub.LeaveConversation(c, conv.ID) {
				left = c.Principal
			}
		}
		if left != nil {
			f.hub.Broadcast(room, participant(OutUserLeft, conv.ID, left, "transferred"), "")
		}
	}
	f.hub.Broadcast(room, Envelope{Type: OutConversationUpdated, Payload: conv}, "")

	if conv.DepartmentID != nil {
		f.hub.SendTo(f.DepartmentAudience(*conv.DepartmentID), listUpdate(ListQueued, conv))
	}
	return nil
}

func (f *Fanout) onClosed(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ConversationPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	conv := payload.Conversation
	f.hub.Broadcast(ConversationRoom(conv.ID), Envelope{Type: OutConversationUpdated, Payload: conv}, "")
	if payload.PreviousAgentID == nil && conv.DepartmentID != nil {
		f.hub.SendTo(f.DepartmentAudience(*conv.DepartmentID), listUpdate(ListRemoved, conv))
	}
	return nil
}

func (f *Fanout) onPresenceChanged(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PresenceChangedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	f.hub.BroadcastAll(Envelope{Type: OutUserStatusChanged, Payload: UserStatusPayload{
		IdentityID:  payload.IdentityID,
		Kind:        payload.Kind,
		DisplayName: payload.DisplayName,
		Status:      payload.Status,
		LastSeen:    payload.LastSeen,
	}})
	return nil
}

func listUpdate(action string, conv domain.Conversation) Envelope {
	return Envelope{Type: OutCustomerListUpdate, Payload: CustomerListUpdatePayload{
		Action:         action,
		ConversationID: conv.ID,
		DepartmentID:   conv.DepartmentID,
		ClientID:       conv.ClientID,
		Status:         string(conv.Status),
	}}
}

func participant(eventType string, conversationID int64, p *domain.Principal, reason string) Envelope {
	return Envelope{Type: eventType, Payload: ParticipantPayload{
		ConversationID: conversationID,
		IdentityID:     p.ID,
		Kind:           p.Kind,
		DisplayName:    p.DisplayName,
		Reason:         reason,
	}}
}

func unexpectedPayload(event events.Event) error {
	return fmt.Errorf("event %s: unexpected payload %T", event.Type, event.Payload)
}
