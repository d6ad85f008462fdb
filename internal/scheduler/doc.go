// Package scheduler decides which catalog checks are due on each minute tick
// and dispatches them: client checks fan out over the dispatch topic with
// their routing tags as the filter attribute, serverless checks go onto the
// serverless work queue. The due predicate is a pure function of the tick
// time — no last-fired state is kept anywhere — so duplicate ticks are
// tolerated and downstream consumers must be idempotent.
package scheduler
