// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package sessionhost

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestTmuxHost(t *testing.T) *TmuxHost {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	host, err := NewTmuxHost(TmuxConfig{
		Prefix:       fmt.Sprintf("jacquard-test-%d-", time.Now().UnixNano()),
		PollInterval: 100 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return host
}

func TestTmuxHostRoundTrip(t *testing.T) {
	host := newTestTmuxHost(t)
	ctx := context.Background()

	sess, err := host.CreateSession(ctx, "a1", echoSpec(), "", "")
	require.NoError(t, err)
	defer host.TerminateSession(ctx, sess, "cleanup")

	assert.Equal(t, BackendTmux, sess.Backend)
	assert.Equal(t, host.prefix+"a1", sess.ID)

	out, err := host.ReadOutput(ctx, sess)
	require.NoError(t, err)

	require.NoError(t, host.SendInstructions(ctx, sess, "hello tmux"))

	deadline := time.After(10 * time.Second)
	for {
		select {
		case line, ok := <-out:
			require.True(t, ok, "output closed before echo arrived")
			// The pane shows both the typed line and the echo; only
			// the echo carries the marker prefix.
			if strings.HasPrefix(line, "echo: ") {
				assert.Equal(t, "echo: hello tmux", line)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for tmux echo")
		}
	}
}

func TestTmuxHostRejectsDuplicateAgentSession(t *testing.T) {
	host := newTestTmuxHost(t)
	ctx := context.Background()

	sess, err := host.CreateSession(ctx, "a1", echoSpec(), "", "")
	require.NoError(t, err)
	defer host.TerminateSession(ctx, sess, "cleanup")

	_, err = host.CreateSession(ctx, "a1", echoSpec(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestTmuxHostTerminateRemovesSession(t *testing.T) {
	host := newTestTmuxHost(t)
	ctx := context.Background()

	sess, err := host.CreateSession(ctx, "a1", echoSpec(), "", "")
	require.NoError(t, err)

	infos, err := host.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)

	require.NoError(t, host.TerminateSession(ctx, sess, "done"))

	infos, err = host.ListSessions(ctx)
	require.NoError(t, err)
	for _, info := range infos {
		assert.NotEqual(t, sess.ID, info.ID)
	}
}

func TestShellCommandQuoting(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		want    string
	}{
		{"bare", "cat", nil, "cat"},
		{"args", "sh", []string{"-c", "echo hi"}, `sh -c 'echo hi'`},
		{"single quotes", "echo", []string{"it's"}, `echo 'it'\''s'`},
		{"empty arg", "echo", []string{""}, "echo ''"},
		{"dollar", "echo", []string{"$HOME"}, `echo '$HOME'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shellCommand(tt.command, tt.args))
		})
	}
}

func TestPaneLinesTrimsTrailingBlank(t *testing.T) {
	out := "one\ntwo\n\n\n"
	assert.Equal(t, []string{"one", "two"}, paneLines(out))

	assert.Empty(t, paneLines("\n\n"))
	assert.Equal(t, []string{"only"}, paneLines("only"))
}
