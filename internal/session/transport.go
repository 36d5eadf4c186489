// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"

	"github.com/jeranaias/memchat/internal/agent"
)

// Stream yields the events of one reply.
// Next returns io.EOF at the normal end of the stream. Close may be called
// concurrently with a blocked Next and must unblock it.
type Stream interface {
	Next() (agent.Event, error)
	Close() error
}

// Transport opens reply streams. The stream must stop when ctx is cancelled.
type Transport interface {
	Open(ctx context.Context, req agent.Request) (Stream, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req agent.Request) (Stream, error)

// Open implements Transport.
func (f TransportFunc) Open(ctx context.Context, req agent.Request) (Stream, error) {
	return f(ctx, req)
}

// FromClient adapts an agent client to Transport.
func FromClient(c *agent.Client) Transport {
	return TransportFunc(func(ctx context.Context, req agent.Request) (Stream, error) {
		s, err := c.Open(ctx, req)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
