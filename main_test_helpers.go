package main

import (
	"bytes"
	"testing"
)

// cliOutput 保存一次 CLI 调用期间写到 stdout/stderr 的内容。
type cliOutput struct {
	out *bytes.Buffer
	err *bytes.Buffer
}

// captureCLIOutput 在测试期间把 stdOut/stdErr 换成内存缓冲，测试结束后恢复。
func captureCLIOutput(t *testing.T) cliOutput {
	t.Helper()

	captured := cliOutput{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = captured.out, captured.err
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return captured
}
