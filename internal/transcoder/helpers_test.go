package transcoder

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const probeJSON = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080},{"codec_type":"audio","codec_name":"aac"}],"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2","duration":"4.000000","size":"1000","bit_rate":"2000"}}`

// writeScript creates an executable shell script standing in for ffmpeg or ffprobe.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg scripts require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func fakeProbe(t *testing.T, dir string) string {
	t.Helper()
	return writeScript(t, dir, "ffprobe", "echo x >> \""+filepath.Join(dir, "probe-count")+"\"\ncat <<'JSON'\n"+probeJSON+"\nJSON\n")
}

func probeCount(t *testing.T, dir string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "probe-count"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("failed to read probe count: %v", err)
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func touchSource(t *testing.T, dir string) string {
	t.Helper()
	src := filepath.Join(dir, "source.mkv")
	if err := os.WriteFile(src, []byte("source"), 0o644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	return src
}
