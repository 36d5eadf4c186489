// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent is the client for the conversational agent service.
//
// A message is sent to an agent with a single POST and the reply arrives as
// a server-sent-event stream. Each event carries a JSON payload; reply text
// is cumulative, so every assistant_message event holds the full reply so
// far rather than a delta.
//
// # Key Types
//
//   - Client: Opens streams, with retry and backoff for transient errors
//   - EventStream: Pull-based reader over one reply stream
//   - Event: One decoded frame with its payload kind
//   - StatusError: Non-2xx response that is not mapped to a sentinel
//
// # Usage
//
//	client := agent.NewClient(baseURL, agentID, credential.Static(token))
//	stream, err := client.Open(ctx, agent.Request{Message: "hi"})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    ev, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// # Error Handling
//
// Open maps 401/403 to ErrAuthFailed and 404 to ErrAgentNotFound. Other 4xx
// responses except 429 return *StatusError without retry. 429, 5xx and
// connection errors are retried with exponential backoff.
package agent
