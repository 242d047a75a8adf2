package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kimhsiao/gatesync/internal/app"
	"github.com/kimhsiao/gatesync/internal/gate"
	"github.com/kimhsiao/gatesync/internal/models"
	"github.com/kimhsiao/gatesync/internal/scanner"
)

func runLogin(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "login")
	user := fs.String("user", "", "username or email")
	password := fs.String("password", os.Getenv("GATE_PASSWORD"), "password (default $GATE_PASSWORD)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *user == "" || *password == "" {
		return usageError{"login: -user and -password are required"}
	}

	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if _, err := a.Client.Login(ctx, *user, *password); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Logged in to %s (tenant %s)\n", a.Session.BaseURL(), a.Session.Tenant())
	return nil
}

func runLogout(ctx context.Context, env *cliEnv, args []string) error {
	if err := parse(newFlagSet(env, "logout"), args); err != nil {
		return err
	}
	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.Client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, "Logged out")
	return nil
}

func parseScanFlags(env *cliEnv, name string, args []string, withToken bool) (token, day string, action models.Action, device string, err error) {
	fs := newFlagSet(env, name)
	var tok *string
	if withToken {
		tok = fs.String("token", "", "QR token")
	}
	dayFlag := fs.String("day", "", "day_event_id of the event day")
	actionFlag := fs.String("action", string(models.ActionCheckin), "checkin or checkout")
	var dev *string
	if !withToken {
		dev = fs.String("device", "", "scanner device (default $GATE_SCANNER_DEVICE, then stdin)")
	}
	if err = parse(fs, args); err != nil {
		return
	}
	if *dayFlag == "" {
		err = usageError{name + ": -day is required"}
		return
	}
	if withToken && *tok == "" {
		err = usageError{name + ": -token is required"}
		return
	}
	action, perr := models.ParseAction(*actionFlag)
	if perr != nil {
		err = usageError{name + ": " + perr.Error()}
		return
	}
	if tok != nil {
		token = *tok
	}
	if dev != nil {
		device = *dev
	}
	return token, *dayFlag, action, device, nil
}

func runScan(ctx context.Context, env *cliEnv, args []string) error {
	token, day, action, _, err := parseScanFlags(env, "scan", args, true)
	if err != nil {
		return err
	}
	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out, err := a.Gate.Submit(ctx, gate.SubmitRequest{Token: token, DayEventID: day, Action: action})
	if err != nil {
		return err
	}
	printOutcome(env, out)
	return nil
}

func printOutcome(env *cliEnv, out *gate.Outcome) {
	switch out.Status {
	case gate.StatusSent:
		fmt.Fprintf(env.stdout, "%s %s: ok\n", out.Event.Action, out.Event.QRToken)
	case gate.StatusQueued:
		fmt.Fprintf(env.stdout, "%s %s: offline, queued (%d pending)\n", out.Event.Action, out.Event.QRToken, out.Depth)
	case gate.StatusDuplicate:
		fmt.Fprintf(env.stdout, "%s %s: duplicate read ignored\n", out.Event.Action, out.Event.QRToken)
	}
}

func runListen(ctx context.Context, env *cliEnv, args []string) error {
	_, day, action, device, err := parseScanFlags(env, "listen", args, false)
	if err != nil {
		return err
	}
	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if device == "" {
		device = a.Config.ScannerDevice
	}
	in := env.stdin
	if device != "" && device != "-" {
		rc, err := scanner.Open(device)
		if err != nil {
			return err
		}
		defer rc.Close()
		in = rc
	}

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	fmt.Fprintf(env.stderr, "Listening for scans (day %s, %s). Ctrl-C to stop.\n", day, action)
	err = scanner.Lines(ctx, in, func(token string) {
		out, err := a.Gate.Submit(ctx, gate.SubmitRequest{Token: token, DayEventID: day, Action: action, Source: device})
		if err != nil {
			report(env.stderr, err)
			return
		}
		printOutcome(env, out)
		switch out.Status {
		case gate.StatusQueued:
			a.Scheduler.SetOnlineStatus(ctx, false)
		case gate.StatusSent:
			// Back online: the scheduler flushes whatever was queued meanwhile.
			a.Scheduler.SetOnlineStatus(ctx, true)
		}
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

func runFlush(ctx context.Context, env *cliEnv, args []string) error {
	if err := parse(newFlagSet(env, "flush"), args); err != nil {
		return err
	}
	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res := a.Gate.Flush(ctx)
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(env.stdout, "Sent %d queued scan(s)\n", res.Sent)
	return nil
}

func runQueue(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "queue")
	clearQueue := fs.Bool("clear", false, "discard every queued scan without sending")
	asJSON := fs.Bool("json", false, "print the queue as JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	q := a.Gate.Coordinator().Queue()
	if *clearQueue {
		if err := q.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(env.stdout, "Offline queue cleared")
		return nil
	}

	items, err := q.Drain(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(env.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models.BulkPayload{Items: items})
	}
	if len(items) == 0 {
		fmt.Fprintln(env.stdout, "Offline queue is empty")
		return nil
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTS\tACTION\tDAY\tDEVICE\tTOKEN")
	for i, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, it.TS, it.Action, it.DayEventID, it.DeviceID, it.QRToken)
	}
	return tw.Flush()
}

func runStatus(ctx context.Context, env *cliEnv, args []string) error {
	if err := parse(newFlagSet(env, "status"), args); err != nil {
		return err
	}
	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	snap := a.Session.Snapshot()
	pending, err := a.Gate.Pending(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Host:\t%s\n", app.Hostname())
	fmt.Fprintf(tw, "Device:\t%s\n", a.Gate.DeviceID())
	fmt.Fprintf(tw, "Base URL:\t%s\n", snap.BaseURL)
	fmt.Fprintf(tw, "Tenant:\t%s\n", snap.Tenant)
	fmt.Fprintf(tw, "Logged in:\t%t\n", snap.AccessToken != "")
	if claims, ok := a.Session.Claims(); ok {
		if claims.Subject != "" {
			fmt.Fprintf(tw, "User:\t%s\n", claims.Subject)
		}
		if !claims.ExpiresAt.IsZero() {
			state := "valid"
			if claims.Expired(time.Now()) {
				state = "expired, will refresh on next call"
			}
			fmt.Fprintf(tw, "Token expires:\t%s (%s)\n", claims.ExpiresAt.Local().Format(time.RFC1123), state)
		}
	}
	fmt.Fprintf(tw, "Queued scans:\t%d\n", pending)
	return tw.Flush()
}

func runEndpoint(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "endpoint")
	base := fs.String("base", "", "backend base URL, e.g. https://events.example.com")
	tenant := fs.String("tenant", "", "tenant path segment")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *base == "" && *tenant == "" {
		return usageError{"endpoint: -base or -tenant is required"}
	}
	a, err := env.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.Session.SetEndpoint(ctx, *base, *tenant); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Endpoint set to %s (tenant %s)\n", a.Session.BaseURL(), a.Session.Tenant())
	return nil
}

func runVersion(_ context.Context, env *cliEnv, args []string) error {
	if err := parse(newFlagSet(env, "version"), args); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "gatesync %s\n", Version)
	return nil
}
