package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/mnemo/internal/app"
	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/orchestrator"
	"github.com/ent0n29/mnemo/internal/storage"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	var cfg config.Config
	cfg.App.SessionInactivityTimeout = time.Minute
	cfg.App.TurnTimeout = 10 * time.Second
	cfg.App.PersistTimeout = 5 * time.Second
	cfg.App.MetricsNamespace = "test_cli_" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "_"))
	cfg.Log.Level = "error"
	cfg.Log.Format = "json"
	cfg.Skills.Dir = filepath.Join(dir, "skills")
	cfg.Skills.TTL = time.Minute
	cfg.Classifier.Mode = "rules"
	cfg.Features.Image = true
	cfg.Features.Audio = true
	cfg.Preferences.AllowUpdate = true
	cfg.Defaults.StyleProfile = "default"
	cfg.Defaults.VoicePreset = "standard_neutral"
	cfg.Storage.LocalCache.Enabled = true
	cfg.Storage.LocalCache.Directory = filepath.Join(dir, "cache")
	cfg.Storage.LocalCache.MaxEntries = 10
	return cfg
}

func useConfig(t *testing.T, cfg config.Config) {
	t.Helper()
	prev := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTurnThenCacheRecords(t *testing.T) {
	useConfig(t, testConfig(t))

	out, err := run(t, "turn", "--session", "cli1", "--json", "help me remember ambulance")
	require.NoError(t, err)
	var resp orchestrator.TurnResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "cli1", resp.SessionID)
	require.NotNil(t, resp.Artifact)
	assert.Equal(t, "ambulance", resp.Artifact.Word())

	out, err = run(t, "cache", "records", "cli1", "--json", "--limit", "5")
	require.NoError(t, err)
	var recs []storage.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, resp.RecordID, recs[0].RecordID)

	out, err = run(t, "cache", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "cli1")
}

func TestBenchAgainstServer(t *testing.T) {
	cfg := testConfig(t)
	built, err := app.Build(context.Background(), cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(built.API.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = built.Cleanup()
	})

	out, err := run(t, "bench", "--base-url", ts.URL, "--turns", "3", "--inter-turn", "0s",
		"--texts", "help me remember the word ambulance|make the image funnier")
	require.NoError(t, err)
	assert.Contains(t, out, "3/3 turns ok")
	assert.Contains(t, out, "p95=")
}

func TestPercentile(t *testing.T) {
	ds := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond}
	assert.Equal(t, 20*time.Millisecond, percentile(ds, 0.5))
	assert.Equal(t, 40*time.Millisecond, percentile(ds, 0.95))
	assert.Equal(t, time.Duration(0), percentile(nil, 0.5))
}

func TestChatWSURL(t *testing.T) {
	got, err := chatWSURL("https://cards.example/base/", "s 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://cards.example/base/v1/chat/ws?session_id=s+1", got)

	_, err = chatWSURL("ftp://cards.example", "s1")
	require.Error(t, err)
}

func TestCacheRecordsRejectsBadLimit(t *testing.T) {
	useConfig(t, testConfig(t))
	_, err := run(t, "cache", "records", "cli1", "--json=false", "--limit", "51")
	require.Error(t, err)
}

func TestRenderCard(t *testing.T) {
	card := &artifact.MemoryArtifact{
		Version: 2,
		WordBlock: &artifact.WordBlock{
			Word:      "ambulance",
			Phonetic:  &artifact.Phonetic{IPA: "/ˈæmbjələns/"},
			Homophone: artifact.Homophone{Text: "俺不能死"},
			Story:     "The patient shouts in the back of the van.",
			Meaning:   artifact.Meaning{PartOfSpeech: "n.", Native: "救护车"},
		},
		Media: artifact.Media{
			Audio: &artifact.AudioRef{URL: "/media/s1/audio-1.wav", DurationSec: 3.2},
		},
		Status: artifact.Status{UpdatedParts: []artifact.Part{artifact.PartAudio}, Reason: "voice refreshed"},
	}
	got := renderCard(card)
	for _, want := range []string{"ambulance", "v2", "俺不能死", "救护车", "audio-1.wav", "3.2s", "voice refreshed"} {
		assert.True(t, strings.Contains(got, want), "card missing %q:\n%s", want, got)
	}
}

func TestRenderRecordWithoutCard(t *testing.T) {
	rec := storage.Record{
		RecordID: "1-abc",
		CachedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Request:  storage.Request{Messages: []artifact.Turn{{Role: artifact.RoleUser, Content: "hello"}}},
		Response: storage.Response{ReplyText: "Hi! Give me a word."},
	}
	got := renderRecord(rec)
	assert.Contains(t, got, "1-abc")
	assert.Contains(t, got, "2026-01-02 03:04:05")
	assert.Contains(t, got, "Give me a word")
}
