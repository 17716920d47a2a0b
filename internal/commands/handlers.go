package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"memberbot/internal/eventbus"
	"memberbot/internal/membership"
	"memberbot/internal/messages"
	"memberbot/internal/storage"
	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

func option(req *Request, name string) (string, error) {
	v, ok := req.Interaction.Option(name)
	if !ok || v == "" {
		return "", reject(fmt.Sprintf(messages.MissingOption, name))
	}
	return v, nil
}

func (r *Router) addElite(ctx context.Context, req *Request) error {
	userID, err := option(req, "user")
	if err != nil {
		return err
	}
	durText, err := option(req, "time")
	if err != nil {
		return err
	}
	d, err := membership.ParseDuration(durText)
	if err != nil {
		return reject(messages.InvalidDuration)
	}

	st := r.d.Settings()
	roleName, ok, err := r.d.Roles.RoleName(ctx, st.RoleID)
	if err != nil {
		return fmt.Errorf("lookup role: %w", err)
	}
	if !ok {
		return reject(messages.RoleNotFound)
	}
	if _, exists := r.d.Store.Lookup(userID); exists {
		return reject(messages.AlreadyMember)
	}
	if err := r.d.Roles.AddRole(ctx, userID, st.RoleID); err != nil {
		r.d.Metrics.RoleError("add")
		return rejectErr(messages.AddRoleFailed, err)
	}

	expireAt, err := r.d.Store.Grant(userID, st.RoleID, d)
	switch {
	case errors.Is(err, membership.ErrAlreadyMember):
		return reject(messages.AlreadyMember)
	case err != nil:
		if rbErr := r.d.Roles.RemoveRole(ctx, userID, st.RoleID); rbErr != nil {
			req.Logger.Error("rolling back role after failed save", logx.Err(rbErr))
		}
		return rejectErr(messages.SaveFailed, err)
	}
	r.d.Metrics.Change(string(storage.ActionGrant))

	if err := r.d.DM.SendDirect(ctx, userID, messages.WelcomeDM(userID, roleName, expireAt, st.Signature)); err != nil {
		req.Logger.Info("welcome dm not delivered", logx.String("user", userID), logx.Err(err))
	}
	r.logEvent(ctx, req, messages.GrantedLog(roleName, userID, durText, req.Interaction.UserID))
	r.audit(ctx, req, storage.AuditEntry{
		Action: storage.ActionGrant, UserID: userID, RoleID: st.RoleID,
		ActorID: req.Interaction.UserID, ExpireAt: expireAt,
	})
	r.publish(eventbus.MembershipGranted, eventbus.MembershipChange{
		UserID: userID, RoleID: st.RoleID, ActorID: req.Interaction.UserID, ExpireAt: expireAt,
	})
	return req.Reply(ctx, messages.Granted)
}

func (r *Router) removeElite(ctx context.Context, req *Request) error {
	userID, err := option(req, "user")
	if err != nil {
		return err
	}
	rec, ok := r.d.Store.Lookup(userID)
	if !ok {
		return reject(messages.NotMember)
	}

	roleName, exists, err := r.d.Roles.RoleName(ctx, rec.RoleID)
	if err != nil {
		return fmt.Errorf("lookup role: %w", err)
	}
	if !exists {
		if _, err := r.d.Store.Revoke(userID); err != nil && !errors.Is(err, membership.ErrNotMember) {
			return rejectErr(messages.SaveFailed, err)
		}
		r.audit(ctx, req, storage.AuditEntry{
			Action: storage.ActionRoleMissing, UserID: userID, RoleID: rec.RoleID,
			ActorID: req.Interaction.UserID, ExpireAt: rec.ExpireAt,
		})
		return req.Reply(ctx, messages.RoleGone)
	}

	if err := r.d.Roles.RemoveRole(ctx, userID, rec.RoleID); err != nil {
		r.d.Metrics.RoleError("remove")
		return rejectErr(messages.RemoveRoleFailed, err)
	}
	if err := r.d.DM.SendDirect(ctx, userID, messages.EndedDM(userID, roleName, r.d.Settings().Signature)); err != nil {
		req.Logger.Info("removal dm not delivered", logx.String("user", userID), logx.Err(err))
	}
	if _, err := r.d.Store.Revoke(userID); err != nil {
		if errors.Is(err, membership.ErrNotMember) {
			// Expired by the sweeper in the meantime.
			return req.Reply(ctx, messages.Revoked)
		}
		return rejectErr(messages.SaveFailed, err)
	}
	r.d.Metrics.Change(string(storage.ActionRevoke))

	r.logEvent(ctx, req, messages.RevokedLog(roleName, userID, req.Interaction.UserID))
	r.audit(ctx, req, storage.AuditEntry{
		Action: storage.ActionRevoke, UserID: userID, RoleID: rec.RoleID,
		ActorID: req.Interaction.UserID, ExpireAt: rec.ExpireAt,
	})
	r.publish(eventbus.MembershipRevoked, eventbus.MembershipChange{
		UserID: userID, RoleID: rec.RoleID, ActorID: req.Interaction.UserID, ExpireAt: rec.ExpireAt,
	})
	return req.Reply(ctx, messages.Revoked)
}

func (r *Router) membership(ctx context.Context, req *Request) error {
	userID, err := option(req, "user")
	if err != nil {
		return err
	}
	rec, ok := r.d.Store.Lookup(userID)
	if !ok {
		return req.Reply(ctx, fmt.Sprintf(messages.MembershipNone, userID))
	}
	roleName, exists, err := r.d.Roles.RoleName(ctx, rec.RoleID)
	if err != nil {
		return fmt.Errorf("lookup role: %w", err)
	}
	switch {
	case !exists:
		return req.Reply(ctx, fmt.Sprintf(messages.MembershipRoleMiss, userID))
	case rec.ExpireAt.IsZero():
		return req.Reply(ctx, fmt.Sprintf(messages.MembershipForever, userID, roleName))
	default:
		return req.Reply(ctx, fmt.Sprintf(messages.MembershipActive, userID, roleName, messages.Timestamp(rec.ExpireAt)))
	}
}

func (r *Router) lockCommands(ctx context.Context, req *Request) error {
	raw, err := option(req, "locked")
	if err != nil {
		return err
	}
	locked, err := strconv.ParseBool(raw)
	if err != nil {
		return reject(fmt.Sprintf(messages.MissingOption, "locked"))
	}
	if err := r.d.Locks.SetLocked(locked); err != nil {
		return fmt.Errorf("persist lock: %w", err)
	}
	req.Logger.Info("command lock changed", logx.Bool("locked", locked), logx.String("actor", req.Interaction.UserID))
	if locked {
		return req.Reply(ctx, messages.LockedNow)
	}
	return req.Reply(ctx, messages.UnlockedNow)
}

func (r *Router) logEvent(ctx context.Context, req *Request, e transport.Embed) {
	if err := r.d.Events.LogEvent(ctx, e); err != nil {
		req.Logger.Debug("event log not queued", logx.Err(err))
	}
}

func (r *Router) audit(ctx context.Context, req *Request, e storage.AuditEntry) {
	if r.d.Audit == nil {
		return
	}
	if err := r.d.Audit.AppendAudit(ctx, e); err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
}

func (r *Router) publish(typ string, c eventbus.MembershipChange) {
	if r.d.Bus == nil {
		return
	}
	r.d.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: c})
}
