// Package notifier delivers the membership event log to a Discord webhook.
//
// Posts are queued and sent by a small worker pool behind a token-bucket
// limiter. Failed posts are retried with exponential backoff. The queue is
// bounded; when it is full new posts fail fast with ErrQueueFull.
//
// The Service also implements logx.Sink so warnings and errors can be
// mirrored to the same webhook.
package notifier
