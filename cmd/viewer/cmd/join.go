package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dkeye/Viewing/internal/adapters/rtc"
	"github.com/dkeye/Viewing/internal/client"
	"github.com/dkeye/Viewing/internal/client/media"
	"github.com/dkeye/Viewing/internal/client/supervisor"
	"github.com/dkeye/Viewing/internal/client/transport"
	"github.com/dkeye/Viewing/internal/domain"
	"github.com/spf13/cobra"
)

var (
	sessionID string
	name      string
	asHost    bool
	noVideo   bool
	noAudio   bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a viewing session; stdin lines are sent as chat",
	Long: `Join a viewing session and stay in it until /leave, EOF or Ctrl-C.

Commands typed on stdin:
  /mute        toggle microphone
  /camera      toggle camera
  /reconnect   retry after automatic reconnection gave up
  /end         end the session for everyone (host only)
  /leave       leave and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		role := domain.RoleViewer
		want := media.Constraints{}
		if asHost {
			role = domain.RoleHost
			want = media.Constraints{Video: !noVideo, Audio: !noAudio}
		} else if !noAudio {
			want = media.Constraints{Audio: true}
		}

		receiver := rtc.NewReceiver()
		c := client.New(client.Options{
			SessionID: domain.SessionID(sessionID),
			Name:      name,
			Role:      role,
			Media:     want,
			Source:    rtc.SampleSource{Devices: media.Constraints{Video: true, Audio: true}},
			Dialer: &transport.WSDialer{
				URL:             cfg.RelayURL,
				Token:           cfg.Token,
				HeartbeatPeriod: cfg.HeartbeatPeriod,
			},
			Handshakes: rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.ICEServers...), receiver.OnTrack),
			Reconnect: supervisor.Policy{
				Attempts:        cfg.ReconnectAttempts,
				MaxElapsed:      cfg.ReconnectMaxElapsed,
				InitialInterval: cfg.ReconnectInitialInterval,
				MaxInterval:     cfg.ReconnectMaxInterval,
			},
		})

		if err := c.Join(ctx); err != nil {
			return describe(err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "joined %s as %s (%s)\n", sessionID, c.Role(), c.Self())

		lines := make(chan string)
		go readLines(cmd.InOrStdin(), lines)

		for {
			select {
			case <-ctx.Done():
				_ = c.Leave()
				return nil
			case ev := <-c.Events():
				if done := render(out, ev); done {
					return nil
				}
			case line, ok := <-lines:
				if !ok {
					_ = c.Leave()
					return nil
				}
				if quit := command(out, c, receiver, line); quit {
					return nil
				}
			}
		}
	},
}

func init() {
	joinCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id")
	joinCmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	joinCmd.Flags().BoolVar(&asHost, "host", false, "join as the host")
	joinCmd.Flags().BoolVar(&noVideo, "no-video", false, "do not publish video")
	joinCmd.Flags().BoolVar(&noAudio, "no-audio", false, "do not publish audio")
	_ = joinCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(joinCmd)
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func command(out io.Writer, c *client.Client, receiver *rtc.Receiver, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/leave":
		_ = c.Leave()
		return true
	case "/mute":
		on, err := c.ToggleAudio()
		report(out, "microphone", on, err)
	case "/camera":
		on, err := c.ToggleVideo()
		report(out, "camera", on, err)
	case "/reconnect":
		c.Reconnect()
	case "/end":
		if err := c.EndSession(); err != nil {
			fmt.Fprintln(out, "!", err)
		}
	case "/stats":
		for _, st := range receiver.Stats() {
			fmt.Fprintf(out, "  %s ssrc=%d packets=%d bytes=%d\n", st.Kind, st.SSRC, st.Packets, st.Bytes)
		}
	default:
		if err := c.SendChat(line); err != nil {
			fmt.Fprintln(out, "! chat not sent:", err)
		}
	}
	return false
}

func report(out io.Writer, device string, on bool, err error) {
	if err != nil {
		fmt.Fprintln(out, "!", describe(err))
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(out, "%s %s\n", device, state)
}

func render(out io.Writer, ev client.Event) bool {
	switch e := ev.(type) {
	case client.ChatReceived:
		fmt.Fprintf(out, "[%d] %s: %s\n", e.Message.Seq, e.Message.Sender.Name, e.Message.Text)
	case client.RosterChanged:
		names := make([]string, 0, len(e.Participants))
		for _, p := range e.Participants {
			names = append(names, fmt.Sprintf("%s(%s)", p.Name, p.Role))
		}
		fmt.Fprintln(out, "* present:", strings.Join(names, ", "))
	case client.StatusChanged:
		fmt.Fprintln(out, "* relay", e.Status)
		if e.Status == supervisor.StatusDisconnected {
			fmt.Fprintln(out, "* type /reconnect to try again")
		}
	case client.PeerStateChanged:
		fmt.Fprintf(out, "* peer %s: %s -> %s\n", e.Remote, e.From, e.To)
	case client.SessionStatusChanged:
		fmt.Fprintln(out, "* session", e.Status)
	case client.MediaChanged:
		fmt.Fprintf(out, "* %s audio=%t video=%t\n", e.ConnID, e.State.AudioEnabled, e.State.VideoEnabled)
	case client.RemoteTrack:
		fmt.Fprintf(out, "* receiving %s from %s\n", e.Kind, e.Remote)
	case client.Warning:
		fmt.Fprintln(out, "! warning:", e.Message)
	case client.Failed:
		fmt.Fprintln(out, "!", describe(e.Err))
	case client.SessionEnded:
		fmt.Fprintln(out, "* the session has ended")
		return true
	}
	return false
}

func describe(err error) error {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return fmt.Errorf("camera or microphone permission was denied: %w", err)
	case errors.Is(err, media.ErrDeviceNotFound):
		return fmt.Errorf("no camera or microphone was found: %w", err)
	case errors.Is(err, domain.ErrSessionEnded):
		return errors.New("this viewing has ended")
	case errors.Is(err, supervisor.ErrExhausted):
		return fmt.Errorf("lost connection to the relay: %w", err)
	case errors.Is(err, domain.ErrHandshake):
		return fmt.Errorf("could not establish the video connection, rejoin to retry: %w", err)
	}
	return err
}

