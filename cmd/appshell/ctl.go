// oreon/appshell · watchthelight <wtl>

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oreonproject/appshell/pkg/config"
	"github.com/oreonproject/appshell/pkg/ipc"
)

var ctlTimeout time.Duration

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running shell over its socket",
}

func init() {
	ctlCmd.PersistentFlags().DurationVar(&ctlTimeout, "timeout", 10*time.Second, "timeout for a single request")

	ctlCmd.AddCommand(
		simpleCtl("status", "Show shell status", ipc.CmdStatus, printStatus),
		simpleCtl("show", "Show the main window", ipc.CmdShow, nil),
		simpleCtl("quit", "Quit the shell", ipc.CmdQuit, nil),
		simpleCtl("close-splash", "Close the splash screen and show the main window", ipc.CmdCloseSplash, nil),
		simpleCtl("check", "Check for an update", ipc.CmdUpdateCheck, printCheck),
		simpleCtl("cancel", "Abandon a running update download", ipc.CmdUpdateCancel, printJSON),
		simpleCtl("clear-cache", "Discard downloaded updates and the current session", ipc.CmdUpdateClearCache, nil),
		closeCmd,
		downloadCmd,
		installCmd,
		eventsCmd,
	)
}

func newCtlClient() (*ipc.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(cfg.IPC.SocketPath), nil
}

func call(ctx context.Context, command string, args interface{}) (*ipc.Response, error) {
	client, err := newCtlClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Call(ctx, command, args)
}

func simpleCtl(use, short, command string, show func(*ipc.Response) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), ctlTimeout)
			defer cancel()
			resp, err := call(ctx, command, nil)
			if err != nil {
				return err
			}
			if show == nil {
				fmt.Println("ok")
				return nil
			}
			return show(resp)
		},
	}
}

var closeCmd = &cobra.Command{
	Use:   "close <window>",
	Short: "Send a close request for a window through the lifecycle policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), ctlTimeout)
		defer cancel()
		resp, err := call(ctx, ipc.CmdCloseWindow, ipc.WindowArgs{Window: args[0]})
		if err != nil {
			return err
		}
		var closed ipc.CloseResponse
		if err := resp.UnmarshalData(&closed); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], closed.Decision)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [session-id]",
	Short: "Download the offered update, printing progress",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessionID string
		if len(args) == 1 {
			sessionID = args[0]
		}

		client, err := newCtlClient()
		if err != nil {
			return err
		}
		defer client.Close()

		// Ctrl-C abandons the transfer on the shell side too.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		stream, err := client.Subscribe(ctx)
		if err != nil {
			return err
		}
		go func() {
			for evt := range stream {
				if evt.ID != ipc.EventUpdateProgress {
					continue
				}
				var p ipc.ProgressEvent
				if err := evt.UnmarshalData(&p); err != nil {
					continue
				}
				fmt.Printf("\r%s / %s (%d%%)", humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(max(p.Total, 0))), max(p.Percent, 0))
			}
		}()

		type result struct {
			resp *ipc.Response
			err  error
		}
		done := make(chan result, 1)
		go func() {
			// No deadline: the transfer takes as long as the transport allows.
			resp, err := client.Call(context.WithoutCancel(ctx), ipc.CmdUpdateDownload, ipc.SessionArgs{SessionID: sessionID})
			done <- result{resp, err}
		}()

		var res result
		select {
		case res = <-done:
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), ctlTimeout)
			defer cancel()
			if _, err := call(cctx, ipc.CmdUpdateCancel, nil); err != nil {
				return fmt.Errorf("cancel download: %w", err)
			}
			res = <-done
		}
		fmt.Println()
		if res.err != nil {
			return res.err
		}
		var info ipc.SessionInfo
		if err := res.resp.UnmarshalData(&info); err != nil {
			return err
		}
		fmt.Printf("downloaded %s (%s)\n", info.Version, humanize.Bytes(uint64(info.Total)))
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install [session-id]",
	Short: "Install the downloaded update and restart the shell",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessionID string
		if len(args) == 1 {
			sessionID = args[0]
		}
		// Installs are never interrupted, so wait as long as it takes.
		resp, err := call(context.WithoutCancel(cmd.Context()), ipc.CmdUpdateInstall, ipc.SessionArgs{SessionID: sessionID})
		if err != nil {
			return err
		}
		var info ipc.SessionInfo
		if err := resp.UnmarshalData(&info); err != nil {
			return err
		}
		fmt.Printf("installed %s, restarting\n", info.Version)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream pushed events as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newCtlClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		stream, err := client.Subscribe(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for evt := range stream {
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
		return nil
	},
}

func printJSON(resp *ipc.Response) error {
	fmt.Println(string(resp.Data))
	return nil
}

func printStatus(resp *ipc.Response) error {
	var status ipc.StatusResponse
	if err := resp.UnmarshalData(&status); err != nil {
		return err
	}
	fmt.Printf("state:        %s\n", status.State)
	fmt.Printf("version:      %s\n", status.Version)
	fmt.Printf("pid:          %d\n", status.PID)
	fmt.Printf("main visible: %t\n", status.MainVisible)
	if len(status.Windows) > 0 {
		fmt.Printf("shown:        %s\n", strings.Join(status.Windows, ", "))
	}
	if s := status.Session; s != nil {
		fmt.Printf("update:       %s %s (%s)\n", s.Phase, s.Version, s.ID)
		if s.Total > 0 {
			fmt.Printf("downloaded:   %s / %s\n", humanize.Bytes(uint64(s.Downloaded)), humanize.Bytes(uint64(s.Total)))
		}
	}
	if status.LastJournal != "" {
		fmt.Printf("last update:  %s\n", status.LastJournal)
	}
	return nil
}

func printCheck(resp *ipc.Response) error {
	var check ipc.CheckResponse
	if err := resp.UnmarshalData(&check); err != nil {
		return err
	}
	if !check.Available {
		fmt.Println("up to date")
		return nil
	}
	fmt.Printf("update %s available (session %s)\n", check.Version, check.SessionID)
	return nil
}
