package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetupWriter(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	SetupWriter(&buf, zerolog.WarnLevel, false)

	log.Info().Msg("hidden")
	log.Warn().Str("participant_id", "p1").Msg("shown")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("want exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "shown" || line["participant_id"] != "p1" || line["level"] != "warn" {
		t.Fatalf("line = %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatal("timestamp missing")
	}
	if _, ok := line["caller"]; !ok {
		t.Fatal("caller missing")
	}
}
