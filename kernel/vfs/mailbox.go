package vfs

// MaxMessageBytes is the maximum payload size of a message.
const MaxMessageBytes = 1024

const mailboxSlots = 8

// Message is a fixed-size message envelope.
type Message struct {
	ID   uint32
	Len  uint16
	Data [MaxMessageBytes]byte
}

// NewMessage copies data into a message.
func NewMessage(id uint32, data []byte) (Message, bool) {
	if len(data) > MaxMessageBytes {
		return Message{}, false
	}
	msg := Message{ID: id, Len: uint16(len(data))}
	copy(msg.Data[:], data)
	return msg, true
}

// Payload returns the used part of Data.
func (m *Message) Payload() []byte {
	n := int(m.Len)
	if n > MaxMessageBytes {
		n = MaxMessageBytes
	}
	return m.Data[:n]
}

// mailbox is a fixed-size queue. It is only touched with the VFS lock held.
type mailbox struct {
	head  uint8
	tail  uint8
	slots [mailboxSlots]Message
}

func (mb *mailbox) push(msg Message) bool {
	if mb.head-mb.tail >= mailboxSlots {
		return false
	}
	mb.slots[mb.head%mailboxSlots] = msg
	mb.head++
	return true
}

func (mb *mailbox) pop() (Message, bool) {
	if mb.tail == mb.head {
		return Message{}, false
	}
	msg := mb.slots[mb.tail%mailboxSlots]
	mb.slots[mb.tail%mailboxSlots] = Message{}
	mb.tail++
	return msg, true
}

func (mb *mailbox) len() int { return int(mb.head - mb.tail) }
