// ivk-session runs an unattended candidate interview from a terminal:
// scripted sessions capture one microphone segment per question under a
// countdown, conversational sessions hold a live voice exchange with the
// platform's interviewer agent.
package main

import "github.com/interviewkit/ivk-go/internal/dotenv"

func main() {
	_ = dotenv.Load()
	Execute()
}
