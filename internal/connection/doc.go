// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Tracks every live WebSocket client and its symbol subscriptions
//   - Runs one receive loop per client, handling frames in arrival order
//   - Answers subscribe/unsubscribe control frames with acknowledgements
//   - Fans broadcast messages out to all clients concurrently
//   - Drops clients whose send fails, after the delivery pass completes
package connection
