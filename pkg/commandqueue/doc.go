// Package commandqueue serializes work per lane. Turns for one session run
// in the session's lane one at a time, in arrival order, while different
// lanes run concurrently.
//
// Invariants:
//   - Tasks in the same lane execute one at a time in FIFO order.
//   - Tasks in different lanes never wait on each other.
//   - A waiting task whose context ends leaves the lane without running.
//   - Under PolicyReject a task arriving at a busy lane fails with SessionBusy.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.PolicyWait, logger)
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, commandqueue.SessionLane("abc"), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	})
package commandqueue
