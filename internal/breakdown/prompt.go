package breakdown

import (
	"fmt"
	"strings"
)

const systemInstruction = `You are a video marketing analyst. Break the supplied gameplay or ad video into a voice-over script and a storyboard.
Respond with a single JSON object and nothing else:
{"script": string, "shots": [{"shotNumber": int, "description": string, "audioNote": string, "visualPrompt": string}]}
Shots must follow the order of the video. visualPrompt must be a self-contained image generation prompt for the shot's key frame.`

// BuildPrompt assembles the analyzer instructions for one run.
func BuildPrompt(userContext string, langs Languages, frameCount int) Prompt {
	var b strings.Builder
	if frameCount > 0 {
		fmt.Fprintf(&b, "The video is supplied as %d still frames in playback order.\n", frameCount)
	} else {
		b.WriteString("The video is supplied by reference.\n")
	}
	fmt.Fprintf(&b, "Write the script in %s.\n", DisplayName(langs.Script))
	fmt.Fprintf(&b, "Write shot descriptions and audio notes in %s.\n", DisplayName(langs.Storyboard))
	fmt.Fprintf(&b, "Write visual prompts in %s.\n", DisplayName(langs.Prompt))
	if ctx := strings.TrimSpace(userContext); ctx != "" {
		b.WriteString("\nCampaign context:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	return Prompt{System: systemInstruction, User: b.String()}
}
