package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"repairdesk/internal/domain"
	"repairdesk/internal/repo"
	"repairdesk/internal/workflow"
)

// Frame is the wire shape pushed to live clients.
type Frame struct {
	Event string              `json:"event"`
	Data  domain.Notification `json:"data"`
}

// Dispatcher persists notifications and pushes them to connected clients.
// Persistence always happens; delivery is best effort and counted per
// accepted push.
type Dispatcher struct {
	Repo        repo.Repo
	Registry    *Registry
	Now         func() time.Time
	ExpiryHours int
	Logger      *log.Logger
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch stores one notification row per target and pushes to every live
// connection the targets resolve to. Broadcasts go out as systemAlert frames,
// targeted pushes as notification frames. It returns the number of pushes the
// transport accepted; a persistence failure is returned after the push still
// went out.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification, targets []Target) (int, error) {
	event := "notification"
	for _, t := range targets {
		if t.All {
			event = "systemAlert"
		}
	}
	now := d.now().UTC()
	n.CreatedAt = now.Format(time.RFC3339)
	if n.ExpiresAt == nil && d.ExpiryHours > 0 {
		exp := now.Add(time.Duration(d.ExpiryHours) * time.Hour).Format(time.RFC3339)
		n.ExpiresAt = &exp
	}

	type delivery struct {
		frame Frame
		conns []Conn
	}
	seen := make(map[Conn]struct{})
	deliveries := make([]delivery, 0, len(targets))
	var persistErr error
	for _, t := range targets {
		row := n
		row.ID = uuid.NewString()
		switch {
		case t.UserID != "":
			row.TargetUserID = &t.UserID
		default:
			row.TargetUserID = nil
		}
		if err := d.Repo.InsertNotification(ctx, row); err != nil {
			d.logger().Printf("notify: persist %s failed: %v", row.ID, err)
			persistErr = errors.Join(persistErr, err)
		}
		// each client gets the stored row for its own target, so the frame
		// carries an id the client can mark read
		dl := delivery{frame: Frame{Event: event, Data: row}}
		for _, c := range d.resolve(t) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			dl.conns = append(dl.conns, c)
		}
		deliveries = append(deliveries, dl)
	}
	delivered := 0
	for _, dl := range deliveries {
		delivered += d.push(dl.frame, dl.conns)
	}
	return delivered, persistErr
}

// Notify composes and dispatches a workflow change. It is the Engine emit
// hook and must not block the caller.
func (d *Dispatcher) Notify(c workflow.Change) {
	msg, ok := Compose(c)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := d.Dispatch(ctx, msg.Notification, msg.Targets); err != nil {
			d.logger().Printf("notify: dispatch %s: %v", c.Type, err)
		}
	}()
}

func (d *Dispatcher) resolve(t Target) []Conn {
	if d.Registry == nil {
		return nil
	}
	switch {
	case t.All:
		return d.Registry.All()
	case t.UserID != "":
		return d.Registry.ForUser(t.UserID)
	case t.Role != "":
		return d.Registry.ForRole(t.Role)
	}
	return nil
}

func (d *Dispatcher) push(f Frame, conns []Conn) int {
	if len(conns) == 0 {
		return 0
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for _, c := range conns {
		wg.Add(1)
		go func(c Conn) {
			defer wg.Done()
			if err := c.WriteJSON(f); err != nil {
				d.logger().Printf("notify: push failed: %v", err)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return delivered
}
