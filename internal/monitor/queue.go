package monitor

// NotificationQueue is a bounded queue between the response processor and the
// notification dispatcher. When full, the oldest pending notification is
// dropped to make room: stale alerts are worth less than fresh ones, and the
// processor must never stall on a slow transport.
type NotificationQueue struct {
	ch chan Notification
}

func NewNotificationQueue(size int) *NotificationQueue {
	return &NotificationQueue{ch: make(chan Notification, size)}
}

// Push enqueues a notification, evicting the oldest entry when the queue is
// full. Returns true when an eviction happened.
func (q *NotificationQueue) Push(n Notification) (dropped bool) {
	for {
		select {
		case q.ch <- n:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped = true
		default:
		}
	}
}

// C is the consumer side of the queue.
func (q *NotificationQueue) C() <-chan Notification { return q.ch }

func (q *NotificationQueue) Len() int { return len(q.ch) }
