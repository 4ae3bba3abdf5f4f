package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	// 普通文件占据目录位置，MkdirAll 必然失败，与运行用户无关
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o600); err != nil {
		t.Fatalf("创建占位文件失败: %v", err)
	}

	logPath := filepath.Join(blocked, "sub", "offline-proxy.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
StorageDriver = "memory"
ListenPort = 5000

[[Scope]]
Name = "mireapp"
Domain = "dashboard.local"
Upstream = "http://127.0.0.1:3000"
`, logPath))

	output := captureCLIOutput(t)
	code := run(cliOptions{configPath: configPath, checkOnly: true})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d，stderr: %s", code, output.err.String())
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
