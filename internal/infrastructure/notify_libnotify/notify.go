package notify_libnotify

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Notifier posts desktop notifications through notify-send. A soft notifier
// swallows delivery errors so a missing notification daemon never fails a
// deployment run.
type Notifier struct {
	soft bool
	opt  Options
}

type Options struct {
	Urgency string
	Expire  time.Duration
}

func New(opt Options) *Notifier     { return &Notifier{opt: opt} }
func NewSoft(opt Options) *Notifier { return &Notifier{soft: true, opt: opt} }

func (n *Notifier) Notify(ctx context.Context, title, body, url string) error {
	cmd := exec.CommandContext(ctx, "notify-send", n.args(title, body, url)...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}
	return nil
}

func (n *Notifier) args(title, body, url string) []string {
	if strings.TrimSpace(url) != "" {
		if body == "" {
			body = url
		} else {
			body = body + "\n" + url
		}
	}

	args := []string{"--app-name=rollout"}
	if n.opt.Urgency != "" {
		args = append(args, "--urgency="+n.opt.Urgency)
	}
	if n.opt.Expire > 0 {
		ms := strconv.Itoa(int(n.opt.Expire / time.Millisecond))
		args = append(args, "--expire-time="+ms)
	}
	return append(args, title, body)
}
