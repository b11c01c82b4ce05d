package dispatch

import (
	"context"
	"time"
)

// Transport delivers one formatted notification.
type Transport interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type Notification struct {
	Topic    string
	ChatID   int64
	Title    string
	Message  string
	URL      string
	Priority int // 1..5
	Tags     []string
}

type Result struct {
	Category  string
	Target    string
	Transport string
	Priority  int
	Attempts  int
	Sent      bool
	Duration  time.Duration
	Err       error
}

const (
	TransportNtfy     = "ntfy"
	TransportTelegram = "telegram"
)

const (
	PriorityMin     = 1
	PriorityLow     = 2
	PriorityDefault = 3
	PriorityHigh    = 4
	PriorityUrgent  = 5
)

var priorityLabels = map[string]int{
	"min":     PriorityMin,
	"low":     PriorityLow,
	"default": PriorityDefault,
	"high":    PriorityHigh,
	"urgent":  PriorityUrgent,
}
