package protocol

// Message protocol definitions shared by the api-server and the clients.

// MessageType tags every envelope exchanged over the socket
type MessageType string

const ( // client -> server
	TypeRegister    MessageType = "register"      // attach identity to the connection
	TypeAuth        MessageType = "auth"          // alias of register
	TypePing        MessageType = "ping"          // keep-alive
	TypeMarkRead    MessageType = "mark_read"     // read receipt for one notification
	TypeMarkAllRead MessageType = "mark_all_read" // read receipt for everything
	TypeMessage     MessageType = "message"       // diagnostic
	TypeTest        MessageType = "test"          // diagnostic
)

const ( // server -> client
	TypeRegistered          MessageType = "registered"
	TypeNotification        MessageType = "notification"
	TypeBroadcast           MessageType = "broadcast"
	TypeUnreadNotifications MessageType = "unread_notifications"
	TypeAdminNotifications  MessageType = "admin_notifications"
	TypeAdminOrderUpdated   MessageType = "admin_order_updated"
	TypeAdminPaymentUpdated MessageType = "admin_payment_updated"
	TypeOrderUpdated        MessageType = "order_updated"
	TypePaymentUpdated      MessageType = "payment_updated"
	TypeOrderUpdate         MessageType = "order_update"
	TypeStockAlert          MessageType = "stock_alert"
	TypeEcho                MessageType = "echo"
	TypeError               MessageType = "error"
)

// Direction of a message type on the wire
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionInbound           // client -> server
	DirectionOutbound          // server -> client
)

var directions = map[MessageType]Direction{
	TypeRegister:    DirectionInbound,
	TypeAuth:        DirectionInbound,
	TypePing:        DirectionInbound,
	TypeMarkRead:    DirectionInbound,
	TypeMarkAllRead: DirectionInbound,
	TypeMessage:     DirectionInbound,
	TypeTest:        DirectionInbound,

	TypeRegistered:          DirectionOutbound,
	TypeNotification:        DirectionOutbound,
	TypeBroadcast:           DirectionOutbound,
	TypeUnreadNotifications: DirectionOutbound,
	TypeAdminNotifications:  DirectionOutbound,
	TypeAdminOrderUpdated:   DirectionOutbound,
	TypeAdminPaymentUpdated: DirectionOutbound,
	TypeOrderUpdated:        DirectionOutbound,
	TypePaymentUpdated:      DirectionOutbound,
	TypeOrderUpdate:         DirectionOutbound,
	TypeStockAlert:          DirectionOutbound,
	TypeEcho:                DirectionOutbound,
	TypeError:               DirectionOutbound,
}

// Known reports whether t belongs to the protocol
func (t MessageType) Known() bool {
	_, ok := directions[t]
	return ok
}

// Direction returns which side is allowed to send t
func (t MessageType) Direction() Direction {
	return directions[t]
}

func (t MessageType) String() string {
	return string(t)
}
