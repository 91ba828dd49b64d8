package main

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listmailer/delivery"
	"listmailer/internal/config"
	"listmailer/internal/metrics"
	"listmailer/queue"
)

func newListDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"meta.json":     `{"from": "a@x.com", "subject": "Hi"}`,
		"queue.csv":     "email,name\nb@x.com,Bob\n\nc@x.com,Carol\n",
		"template.html": "Hello {{name}}",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDryRunWritesOneFilePerRecipient(t *testing.T) {
	dir := newListDir(t)

	out, err := execute(t, "-d", dir, "--log-level", "error")
	require.NoError(t, err)

	for email, want := range map[string]string{"b@x.com": "Hello Bob", "c@x.com": "Hello Carol"} {
		data, err := os.ReadFile(filepath.Join(dir, "out_"+email+".html"))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
	assert.Contains(t, out, "To: b@x.com WROTE: ")
	assert.Contains(t, out, "Rendered 2, failed 0 of 2 recipients")
}

func TestDryRunPrintsNumbersAsWritten(t *testing.T) {
	dir := newListDir(t)
	files := map[string]string{
		"meta.json":     `{"from": "a@x.com", "subject": "Hi", "year": 2025}`,
		"queue.csv":     "email,name,price\nb@x.com,Bob,19.99\n",
		"template.html": "Hello {{name}} {{price}} {{year}}",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	_, err := execute(t, "-d", dir, "--log-level", "error")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out_b@x.com.html"))
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob 19.99 2025", string(data))
}

func TestRunStatusReportsQueueProgress(t *testing.T) {
	metrics.SetQueueDepth(3)
	t.Cleanup(func() { metrics.SetQueueDepth(0) })

	engine := queue.NewEngine(nil)
	assert.Equal(t, "idle queued=3 in_flight=0", runStatus(engine))
}

func TestDryRunToOutputDirectory(t *testing.T) {
	dir := newListDir(t)
	outDir := filepath.Join(t.TempDir(), "preview")

	_, err := execute(t, "-d", dir, "-o", outDir, "--log-level", "error")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "out_b@x.com.html"))
	assert.NoFileExists(t, filepath.Join(dir, "out_b@x.com.html"))
}

func TestMissingInputsAreConfigurationErrors(t *testing.T) {
	dir := newListDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "meta.json")))

	_, err := execute(t, "-d", dir)
	require.ErrorIs(t, err, config.ErrConfiguration)

	_, err = execute(t)
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestRunRequiresKeyfile(t *testing.T) {
	dir := newListDir(t)

	_, err := execute(t, "-d", dir, "-r", "-k", filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, config.ErrConfiguration)
	assert.NoFileExists(t, filepath.Join(dir, "out_b@x.com.html"))
}

func TestRunRejectsInvalidProviderKeys(t *testing.T) {
	dir := newListDir(t)
	keyfile := filepath.Join(dir, "keys.json")
	require.NoError(t, os.WriteFile(keyfile, []byte(`{"resend": {}}`), 0o600))

	_, err := execute(t, "-d", dir, "-r", "-k", keyfile, "-p", "resend")
	require.ErrorIs(t, err, delivery.ErrTransportConfig)
}

// startFakeSMTP accepts any number of sessions and acknowledges every
// command. It returns the port and a counter of accepted messages.
func startFakeSMTP(t *testing.T) (int, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				br := bufio.NewReader(conn)
				fmt.Fprint(conn, "220 fake ESMTP\r\n")
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
					case cmd == "DATA":
						fmt.Fprint(conn, "354 go ahead\r\n")
						for {
							l, err := br.ReadString('\n')
							if err != nil {
								return
							}
							if l == ".\r\n" {
								break
							}
						}
						accepted.Add(1)
						fmt.Fprint(conn, "250 queued\r\n")
					case cmd == "QUIT":
						fmt.Fprint(conn, "221 bye\r\n")
						return
					default:
						fmt.Fprint(conn, "250 OK\r\n")
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, &accepted
}

func TestRunSendsThroughSMTPRelay(t *testing.T) {
	t.Setenv("LISTMAILER_HOSTNAME", "listmailer.test")
	t.Setenv("LISTMAILER_DKIM_SELECTOR", "")
	t.Setenv("LISTMAILER_DKIM_KEY_PATH", "")
	t.Setenv("LISTMAILER_DKIM_PRIVATE_KEY", "")
	t.Setenv("LISTMAILER_DKIM_DOMAIN", "")
	port, accepted := startFakeSMTP(t)

	dir := newListDir(t)
	keyfile := filepath.Join(dir, "keys.json")
	require.NoError(t, os.WriteFile(keyfile, []byte(fmt.Sprintf(`{"smtp": {"host": "127.0.0.1", "port": %d}}`, port)), 0o600))

	out, err := execute(t, "-d", dir, "-r", "-k", keyfile, "-p", "smtp", "--interval", "1ms", "--log-level", "error")
	require.NoError(t, err)

	assert.EqualValues(t, 2, accepted.Load())
	assert.Contains(t, out, "To: b@x.com OK: <")
	assert.Contains(t, out, "To: c@x.com OK: <")
	assert.Contains(t, out, "Sent 2, failed 0 of 2 recipients")
	assert.NoFileExists(t, filepath.Join(dir, "out_b@x.com.html"))
}
