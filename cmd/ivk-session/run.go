package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/interviewkit/ivk-go/pkg/capture"
	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
	ivk "github.com/interviewkit/ivk-go/sdk"
)

var runCmd = &cobra.Command{
	Use:   "run <token>",
	Short: "Run the interview behind a session link token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func newPlatformClient() *ivk.Client {
	var opts []ivk.ClientOption
	if baseURL() != "" {
		opts = append(opts, ivk.WithBaseURL(baseURL()))
	}
	return ivk.NewClient(opts...)
}

func runSession(parent context.Context, token string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	client := newPlatformClient()
	session, err := client.Sessions.Get(ctx, token)
	if err != nil {
		return err
	}

	c, err := ivk.NewController(client, session, capture.NewMicDevice(slog.Default()))
	if err != nil {
		return err
	}
	defer c.Close()

	enter := readLines(ctx)
	switch session.Mode {
	case types.ModeScripted:
		return runScripted(ctx, c, session, enter)
	case types.ModeConversational:
		return runConversational(ctx, c, enter)
	default:
		return core.NewInvalidRequestError(fmt.Sprintf("unsupported mode %q", session.Mode))
	}
}

func runScripted(ctx context.Context, c *ivk.Controller, session *types.InterviewSession, enter <-chan struct{}) error {
	fmt.Printf("Scripted interview: %d questions, %d minutes total.\n", len(session.Questions), session.DurationMinutes)
	if err := c.Begin(); err != nil {
		return err
	}

	for {
		err := c.AcquireDevices(ctx)
		if err == nil {
			break
		}
		var ce *core.Error
		if !errors.As(err, &ce) || !ce.IsRecoverable() {
			return err
		}
		fmt.Printf("Microphone access failed: %s\nPress Enter to retry, Ctrl-C to quit.\n", ce.Message)
		select {
		case <-enter:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for i, q := range session.Questions {
		fmt.Printf("\nQuestion %d of %d (%s, %s):\n  %s\n",
			i+1, len(session.Questions), q.Type, capture.FormatRemaining(q.TimeLimitSeconds), q.Text)
		fmt.Println("Press Enter to start recording.")
		select {
		case <-enter:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := c.StartRecording(q.ID); err != nil {
			return err
		}
		fmt.Println("Recording... press Enter to stop early.")

		if err := waitSegment(ctx, c, q.ID, enter); err != nil {
			return err
		}
	}

	if err := c.EnterReview(); err != nil {
		return err
	}
	fmt.Println("\nAll questions answered. Press Enter to submit.")
	select {
	case <-enter:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Submit(); err != nil {
		return err
	}
	return waitFinalize(ctx, c, enter)
}

// waitSegment renders the countdown until the question's segment is saved,
// by manual stop or countdown expiry.
func waitSegment(ctx context.Context, c *ivk.Controller, questionID string, enter <-chan struct{}) error {
	for {
		select {
		case ev := <-c.Events():
			switch e := ev.(type) {
			case ivk.CountdownEvent:
				if e.QuestionID == questionID {
					fmt.Printf("\r  %s remaining ", capture.FormatRemaining(e.Remaining))
				}
			case ivk.SegmentSavedEvent:
				if e.Segment.QuestionID == questionID {
					fmt.Printf("\r  saved (%s)          \n", e.Segment.Duration.Round(time.Second))
					return nil
				}
			}
		case <-enter:
			if _, err := c.StopRecording(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runConversational(ctx context.Context, c *ivk.Controller, enter <-chan struct{}) error {
	fmt.Println("Connecting to the interviewer...")
	if err := c.StartConversation(ctx); err != nil {
		return err
	}

	speaker, err := newSpeaker()
	if err != nil {
		return err
	}
	defer speaker.Close()

	go pumpMic(c)
	fmt.Println("Connected. Speak naturally; press Enter to end the interview.")

	for {
		select {
		case <-c.Finalized():
			fmt.Println("\nInterview finalized.")
			return nil
		case ev := <-c.Events():
			switch e := ev.(type) {
			case ivk.TranscriptUpdatedEvent:
				fmt.Printf("%s: %s\n", e.Entry.Role, e.Entry.Content)
			case ivk.AssistantAudioEvent:
				speaker.Write(e.Data)
			case ivk.WarningEvent:
				fmt.Printf("! %s\n", e.Message)
			case ivk.ErrorEvent:
				fmt.Printf("! %v\n", e.Err)
			}
		case <-enter:
			_ = c.EndInterview()
		case <-time.After(200 * time.Millisecond):
			if c.Stage() == ivk.StageError {
				if err := promptRetry(ctx, c, enter); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pumpMic ships microphone audio into the conversation until the stream or
// the session ends.
func pumpMic(c *ivk.Controller) {
	stream := c.CaptureStream()
	conv := c.Conversation()
	if stream == nil || conv == nil {
		return
	}
	buf := make([]byte, 3200)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if sendErr := conv.SendAudio(buf[:n]); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// waitFinalize blocks until the upload is acknowledged, offering an explicit
// retry after a transport failure. The captured work is retained; retrying
// never re-runs the session.
func waitFinalize(ctx context.Context, c *ivk.Controller, enter <-chan struct{}) error {
	fmt.Println("Submitting...")
	for {
		select {
		case <-c.Finalized():
			fmt.Println("Interview submitted.")
			return nil
		case <-time.After(100 * time.Millisecond):
			if c.Stage() == ivk.StageError {
				if err := promptRetry(ctx, c, enter); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func promptRetry(ctx context.Context, c *ivk.Controller, enter <-chan struct{}) error {
	fmt.Printf("Upload failed: %v\nYour answers are safe. Press Enter to retry, Ctrl-C to quit.\n", c.FinalizeErr())
	select {
	case <-enter:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.RetryFinalize(ctx); err != nil {
		fmt.Printf("Retry failed: %v\n", err)
	}
	return nil
}

// readLines signals once per line typed on stdin.
func readLines(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
