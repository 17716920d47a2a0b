package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"memberbot/internal/messages"
	logx "memberbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// ReplyError is a handler failure whose text is shown to the invoker.
type ReplyError struct {
	Text string
	Err  error
}

func (e *ReplyError) Error() string {
	if e.Err != nil {
		return e.Text + ": " + e.Err.Error()
	}
	return e.Text
}

func (e *ReplyError) Unwrap() error { return e.Err }

func reject(text string) error { return &ReplyError{Text: text} }

func rejectErr(text string, err error) error { return &ReplyError{Text: text, Err: err} }

func MWRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.logger(log).Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("cmd", req.Interaction.Command),
				logx.String("actor", req.Interaction.UserID),
				logx.Duration("dur", time.Since(start)),
			}
			var rerr *ReplyError
			switch {
			case err == nil:
				req.logger(log).Info("command ok", fields...)
			case errors.As(err, &rerr) && rerr.Err == nil:
				req.logger(log).Info("command rejected", append(fields, logx.String("reason", rerr.Text))...)
			default:
				req.logger(log).Warn("command failed", append(fields, logx.Err(err))...)
			}
			return err
		}
	}
}

func MWTimeout(d func() time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			t := d()
			if t <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, t)
			defer cancel()
			err := next(cctx, req)
			if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return rejectErr(messages.TimedOut, err)
			}
			return err
		}
	}
}

// MWRequireRoles lets only holders of one of the allowed roles through.
func MWRequireRoles(allowed func() []string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			roles := allowed()
			for _, r := range req.Interaction.MemberRoles {
				if slices.Contains(roles, r) {
					return next(ctx, req)
				}
			}
			return reject(messages.NoPermission)
		}
	}
}

// MWLock rejects the named commands while commands are locked.
func MWLock(locked func() bool, guarded ...string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if slices.Contains(guarded, req.Interaction.Command) && locked() {
				return reject(messages.CommandsLocked)
			}
			return next(ctx, req)
		}
	}
}
