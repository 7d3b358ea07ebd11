package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/callrelay/internal/client"
	"github.com/BioHazard786/callrelay/internal/signaling"
	"github.com/BioHazard786/callrelay/internal/ui"
)

var (
	flagProbeURL      string
	flagProbeUsername string
	flagProbeRoom     string
	flagProbeRandom   bool
	flagProbeTimeout  time.Duration
	flagProbeMsgpack  bool
	flagProbeDNS      bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Connect to a server as a participant",
	Long: `Connect to a signaling server as a participant and exercise one flow:
create a room and wait for someone to join (default), join a room by id,
or ask for a random call.

Examples:
  callrelay probe
  callrelay probe --room 6f1c...e2 --username tester
  callrelay probe --random --msgpack --url wss://signal.example.com/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagProbeRoom != "" && flagProbeRandom {
			return errors.New("--room and --random are mutually exclusive")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), flagProbeTimeout)
		defer cancel()
		return runProbe(ctx)
	},
}

func init() {
	probeCmd.Flags().StringVar(&flagProbeURL, "url", "ws://localhost:8080/ws", "websocket URL of the server")
	probeCmd.Flags().StringVarP(&flagProbeUsername, "username", "u", "", "display name (default: derived from the connection id)")
	probeCmd.Flags().StringVarP(&flagProbeRoom, "room", "r", "", "join this room instead of creating one")
	probeCmd.Flags().BoolVar(&flagProbeRandom, "random", false, "request a random call")
	probeCmd.Flags().DurationVarP(&flagProbeTimeout, "timeout", "t", 60*time.Second, "give up after this long")
	probeCmd.Flags().BoolVar(&flagProbeMsgpack, "msgpack", false, "negotiate the msgpack subprotocol")
	probeCmd.Flags().BoolVar(&flagProbeDNS, "dns-fallback", false, "resolve the host through public DNS if the system resolver fails")
}

func runProbe(ctx context.Context) error {
	opts := client.Options{PublicDNSFallback: flagProbeDNS}
	if flagProbeMsgpack {
		opts.Subprotocol = signaling.SubprotocolMsgpack
	}

	sp := ui.NewConnectionSpinner("Connecting to " + flagProbeURL)
	sp.Start()
	c, err := client.Dial(ctx, flagProbeURL, opts)
	if err != nil {
		sp.Error(err.Error())
		return errors.New("probe failed")
	}
	defer c.Close()

	me, err := c.JoinApp(ctx, flagProbeUsername)
	if err != nil {
		sp.Error(err.Error())
		return errors.New("probe failed")
	}
	codec := c.Subprotocol()
	if codec == "" {
		codec = signaling.SubprotocolJSON
	}
	sp.Success(fmt.Sprintf("Connected as %s (%s)", ui.BoldStyle.Render(me.Username), codec))

	switch {
	case flagProbeRandom:
		return probeRandom(ctx, c)
	case flagProbeRoom != "":
		return probeJoin(ctx, c, flagProbeRoom)
	default:
		return probeCreate(ctx, c)
	}
}

func probeCreate(ctx context.Context, c *client.Client) error {
	roomID, err := c.CreateRoom(ctx)
	if err != nil {
		return err
	}
	ui.PrintInfof("%s Room created: %s", ui.IconRoom, ui.BoldStyle.Render(roomID))

	sp := ui.NewWaitingSpinner("Waiting for someone to join")
	sp.Start()
	msg, err := c.Wait(ctx, signaling.EventUserJoined)
	if err != nil {
		sp.Error("Nobody joined")
		return err
	}
	var peer signaling.UserInfo
	json.Unmarshal(msg.Payload, &peer)
	sp.Success(fmt.Sprintf("%s %s joined", ui.IconPeer, peer.Username))
	return sayHello(c, roomID)
}

func probeJoin(ctx context.Context, c *client.Client, roomID string) error {
	if err := c.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	ui.PrintSuccessf("Joined room %s", roomID)
	return sayHello(c, roomID)
}

func probeRandom(ctx context.Context, c *client.Client) error {
	started, err := c.CallRandom(ctx)
	if err != nil {
		return err
	}
	sp := ui.NewWaitingSpinner(fmt.Sprintf("Ringing %s", started.OtherUser))
	sp.Start()
	msg, err := c.Wait(ctx, signaling.EventCallAccepted, signaling.EventCallRejected, signaling.EventCallEnded, signaling.EventUserDisconnected)
	if err != nil {
		sp.Error("No answer")
		return err
	}
	if msg.Type != signaling.EventCallAccepted {
		sp.Error(fmt.Sprintf("Call not accepted (%s)", msg.Type))
		return nil
	}
	sp.Success(fmt.Sprintf("%s accepted", started.OtherUser))
	return sayHello(c, started.RoomID)
}

// sayHello sends one chat message and hangs up.
func sayHello(c *client.Client, roomID string) error {
	if err := c.SendMessage(signaling.NewMessage(signaling.EventChatMessage, roomID, "hello from callrelay probe")); err != nil {
		return err
	}
	if err := c.SendMessage(signaling.NewMessage(signaling.EventEndCall, roomID, nil)); err != nil {
		return err
	}
	ui.PrintSuccessf("%s Signaling path works, call ended", ui.IconSignal)
	return nil
}
