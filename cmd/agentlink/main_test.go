package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentlink/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "agentlink.db")
	cfgPath := filepath.Join(src, "config.json")
	os.WriteFile(dbPath, []byte("sqlite-bytes"), 0o600)
	os.WriteFile(dbPath+"-wal", []byte("wal-bytes"), 0o600)
	os.WriteFile(cfgPath, []byte(`{"ledger":{"backend":"memory"}}`), 0o600)

	files := backupFiles(dbPath, cfgPath)
	if len(files) != 3 {
		t.Fatalf("expected db, wal and config, got %v", files)
	}
	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	newDB := filepath.Join(dst, "store", "other.db")
	newCfg := filepath.Join(dst, "config.json")
	restored, err := extractTarGz(archive, newDB, newCfg)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 3 {
		t.Fatalf("restored %v", restored)
	}
	for path, want := range map[string]string{
		newDB:          "sqlite-bytes",
		newDB + "-wal": "wal-bytes",
		newCfg:         `{"ledger":{"backend":"memory"}}`,
	} {
		got, err := os.ReadFile(path)
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v", path, got, err)
		}
	}
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.tar.gz")
	os.WriteFile(bad, []byte("plain text"), 0o600)
	if _, err := extractTarGz(bad, "x.db", "config.json"); err == nil {
		t.Fatal("expected error for a non-gzip archive")
	}
}

func TestMessageBody(t *testing.T) {
	if got, err := messageBody([]string{"hello"}, ""); err != nil || got != "hello" {
		t.Fatalf("arg body = %q, %v", got, err)
	}
	f := filepath.Join(t.TempDir(), "body.txt")
	os.WriteFile(f, []byte(strings.Repeat("x", 2000)), 0o600)
	if got, err := messageBody(nil, f); err != nil || len(got) != 2000 {
		t.Fatalf("file body len %d, %v", len(got), err)
	}
	if _, err := messageBody(nil, ""); err == nil {
		t.Fatal("expected error without a body")
	}
}

func TestNewLogger_JSONToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "agentlink.log")
	l, closeLog, err := newLogger(config.GeneralConfig{LogLevel: "debug", LogFormat: "json", LogFile: logFile})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	l.Debug("probe", "k", "v")
	closeLog()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"probe"`) {
		t.Fatalf("unexpected log contents %q", data)
	}
}

func TestPersistRegistryTopic(t *testing.T) {
	t.Setenv("REGISTRY_TOPIC_ID", "")
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}
	logger = testLogger()

	persistRegistryTopic(cfgPath, "0.0.42")

	got, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if got.Ledger.RegistryTopicID != "0.0.42" {
		t.Fatalf("registry topic = %q", got.Ledger.RegistryTopicID)
	}
}

func TestAcceptResult_MatchesTransportKey(t *testing.T) {
	data, err := json.Marshal(acceptResult("0.0.1234"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"connectionTopicId":"0.0.1234"}` {
		t.Fatalf("accept output = %s", data)
	}
}
