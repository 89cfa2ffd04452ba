package cmd

import (
	"bytes"
	"context"
	"io"
	"strings"
)

func cmdContext() context.Context {
	return context.Background()
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

func splitLines(data []byte) []string {
	lines := strings.Split(string(data), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, strings.TrimSpace(line))
	}
	return out
}
