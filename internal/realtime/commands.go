// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/coachsync/internal/models"
)

// CommandReply is the backend's answer to a command.
type CommandReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ErrCommandRejected wraps a negative command reply.
var ErrCommandRejected = errors.New("command rejected")

// CommandPublisher sends feedback commands as NATS requests.
type CommandPublisher struct {
	nc       *nats.Conn
	subjects Subjects
	timeout  time.Duration
}

var _ Commander = (*CommandPublisher)(nil)

// NewCommandPublisher creates a publisher whose requests time out after
// timeout unless the caller's context ends sooner.
func NewCommandPublisher(nc *nats.Conn, subjects Subjects, timeout time.Duration) *CommandPublisher {
	return &CommandPublisher{nc: nc, subjects: subjects, timeout: timeout}
}

// RequestRegeneration asks the backend to regenerate one item's narration.
func (c *CommandPublisher) RequestRegeneration(ctx context.Context, analysisID, feedbackID string) error {
	return c.request(ctx, c.subjects.RetryCommand(), Command{Kind: "retry", AnalysisID: analysisID, FeedbackID: feedbackID})
}

// SubmitRating sends a user's rating of one item.
func (c *CommandPublisher) SubmitRating(ctx context.Context, analysisID, feedbackID string, rating models.Rating) error {
	return c.request(ctx, c.subjects.RatingCommand(), Command{Kind: "rating", AnalysisID: analysisID, FeedbackID: feedbackID, Rating: rating})
}

func (c *CommandPublisher) request(ctx context.Context, subject string, cmd Command) error {
	data, err := json.Marshal(&cmd)
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", cmd.Kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("%s command: %w", cmd.Kind, err)
	}
	var reply CommandReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", cmd.Kind, err)
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", ErrCommandRejected, reply.Error)
	}
	return nil
}

// ServeCommands answers retry and rating requests with handler, standing in
// for the backend in demo mode and tests. Unsubscribe both returned
// subscriptions to stop.
func ServeCommands(nc *nats.Conn, subjects Subjects, handler func(Command) error) ([]*nats.Subscription, error) {
	respond := func(msg *nats.Msg) {
		var cmd Command
		reply := CommandReply{OK: true}
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			reply = CommandReply{Error: "malformed command"}
		} else if err := handler(cmd); err != nil {
			reply = CommandReply{Error: err.Error()}
		}
		data, _ := json.Marshal(&reply)
		_ = msg.Respond(data)
	}

	var subs []*nats.Subscription
	for _, subject := range []string{subjects.RetryCommand(), subjects.RatingCommand()} {
		sub, err := nc.Subscribe(subject, respond)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
