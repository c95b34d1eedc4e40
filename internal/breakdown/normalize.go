package breakdown

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/storyboard"
)

var (
	shotListKeys     = []string{"shots", "storyboard"}
	descriptionKeys  = []string{"description", "desc"}
	audioNoteKeys    = []string{"audioNote", "audio_note", "audio"}
	visualPromptKeys = []string{"visualPrompt", "visual_prompt", "prompt"}
	shotNumberKeys   = []string{"shotNumber", "shot_number", "number"}
)

// Normalize validates a raw analyzer response and converts it into a
// Breakdown. Shot numbers are always re-derived from list order and every
// shot gets a fresh id from newID. A missing or null shot list yields an
// empty, valid breakdown.
func Normalize(raw []byte, newID func() string, logger *slog.Logger) (*storyboard.Breakdown, error) {
	logger = logging.OrDiscard(logger)
	body := stripCodeFence(raw)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, contractError("response is not a JSON object", raw, err)
	}

	var script string
	if v, ok := doc["script"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &script); err != nil {
			return nil, contractError("script is not a string", raw, err)
		}
	}

	var items []json.RawMessage
	if list, key, ok := firstPresent(doc, shotListKeys...); ok && !isNull(list) {
		if err := json.Unmarshal(list, &items); err != nil {
			return nil, contractError(fmt.Sprintf("%s is not a list", key), raw, err)
		}
	}

	shots := make([]storyboard.Shot, 0, len(items))
	renumbered := 0
	for i, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			return nil, contractError(fmt.Sprintf("shot %d is not an object", i+1), raw, err)
		}

		var err error
		shot := storyboard.Shot{ID: newID(), Number: i + 1}
		if shot.Description, err = stringField(obj, descriptionKeys...); err != nil {
			return nil, contractError(fmt.Sprintf("shot %d description", i+1), raw, err)
		}
		if shot.AudioNote, err = stringField(obj, audioNoteKeys...); err != nil {
			return nil, contractError(fmt.Sprintf("shot %d audio note", i+1), raw, err)
		}
		if shot.VisualPrompt, err = stringField(obj, visualPromptKeys...); err != nil {
			return nil, contractError(fmt.Sprintf("shot %d visual prompt", i+1), raw, err)
		}
		if n, ok := upstreamNumber(obj); ok && n != i+1 {
			renumbered++
		}
		shot.Image.State = storyboard.StateEmpty
		shot.Video.State = storyboard.StateEmpty
		shots = append(shots, shot)
	}

	if renumbered > 0 {
		logger.Warn("breakdown shot numbers re-derived from order",
			"shots", len(shots),
			"inconsistent", renumbered,
		)
	}

	return &storyboard.Breakdown{Script: script, Shots: shots}, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block, which models
// add despite being asked not to.
func stripCodeFence(raw []byte) []byte {
	body := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(body, []byte("```")) {
		return body
	}
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = body[3:]
	}
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte("```"))
	return bytes.TrimSpace(body)
}

func firstPresent(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, string, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, k, true
		}
	}
	return nil, "", false
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(bytes.TrimSpace(v)) == "null"
}

// stringField reads the first present key as text. Numbers and booleans are
// kept in their JSON spelling; objects and arrays are rejected.
func stringField(obj map[string]json.RawMessage, keys ...string) (string, error) {
	v, key, ok := firstPresent(obj, keys...)
	if !ok || isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var scalar any
	if err := json.Unmarshal(v, &scalar); err != nil {
		return "", err
	}
	switch scalar.(type) {
	case float64, bool:
		return string(bytes.TrimSpace(v)), nil
	}
	return "", fmt.Errorf("%s must be a string", key)
}

func upstreamNumber(obj map[string]json.RawMessage) (int, bool) {
	v, _, ok := firstPresent(obj, shotNumberKeys...)
	if !ok || isNull(v) {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(v, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}
