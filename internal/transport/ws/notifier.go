package ws

import (
	"log"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyNewMessage(msg *domain.Message) {
	evt, err := NewEvent(EventTypeMessageNew, &msg.GroupID, MessagePayload{Message: *msg})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.BroadcastToGroup(msg.GroupID, evt, nil)
}

// NotifyNewDM delivers to the recipient and echoes to the sender, so another
// session of the sender's account sees the thread advance.
func (n *HubNotifier) NotifyNewDM(msg *domain.DMMessage) {
	evt, err := NewEvent(EventTypeDMNew, nil, DMMessagePayload{DMMessage: *msg})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.BroadcastToUser(msg.RecipientID, evt)
	n.hub.BroadcastToUser(msg.SenderID, evt)
}

func (n *HubNotifier) NotifyMemberJoined(groupID, userID uuid.UUID) {
	n.broadcastMember(EventTypeMemberJoined, groupID, userID)
}

func (n *HubNotifier) NotifyMemberAdded(groupID, userID uuid.UUID) {
	n.broadcastMember(EventTypeMemberAdded, groupID, userID)
}

func (n *HubNotifier) NotifyMemberLeft(groupID, userID uuid.UUID) {
	n.broadcastMember(EventTypeMemberLeft, groupID, userID)
}

func (n *HubNotifier) NotifyMemberKicked(groupID, userID uuid.UUID) {
	n.broadcastMember(EventTypeMemberKicked, groupID, userID)
	// Tell the kicked member directly too; they are no longer in the group
	// channel and must stop using their key.
	evt, err := NewEvent(EventTypeMemberKicked, &groupID, MemberPayload{UserID: userID})
	if err != nil {
		return
	}
	n.hub.BroadcastToUser(userID, evt)
}

// NotifyKeyRotated goes to each remaining member individually. A group-wide
// broadcast would also reach the kicked member's still-open socket.
func (n *HubNotifier) NotifyKeyRotated(groupID uuid.UUID, keyVersion int, memberIDs []uuid.UUID) {
	evt, err := NewEvent(EventTypeKeyRotated, &groupID, KeyRotatedPayload{KeyVersion: keyVersion})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	for _, id := range memberIDs {
		n.hub.BroadcastToUser(id, evt)
	}
}

func (n *HubNotifier) NotifyGroupDeleted(groupID uuid.UUID) {
	evt, err := NewEvent(EventTypeGroupDeleted, &groupID, struct{}{})
	if err != nil {
		return
	}
	n.hub.BroadcastToGroup(groupID, evt, nil)
}

func (n *HubNotifier) broadcastMember(eventType string, groupID, userID uuid.UUID) {
	evt, err := NewEvent(eventType, &groupID, MemberPayload{UserID: userID})
	if err != nil {
		log.Printf("ws notifier: marshal error: %v", err)
		return
	}
	n.hub.BroadcastToGroup(groupID, evt, nil)
}
