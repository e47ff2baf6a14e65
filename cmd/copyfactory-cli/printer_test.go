package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y3sh/copyfactory-sdk-go/common"
)

func TestPrinter(t *testing.T) {
	color.NoColor = true

	var out, errOut bytes.Buffer
	p := &printer{out: &out, err: &errOut}

	require.NoError(t, p.OnUserLog([]common.UserLogMessage{
		{Level: common.LogLevelInfo, Message: "first"},
		{Level: common.LogLevelError, Message: "second"},
	}))
	require.NoError(t, p.OnStopout([]common.Stopout{{Reason: common.StopoutMaxDrawdown}}))
	p.OnError(errors.New("fetch failed"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var ev struct {
		Type  string                 `json:"type"`
		Event map[string]interface{} `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "user-log", ev.Type)
	assert.Equal(t, "second", ev.Event["message"])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &ev))
	assert.Equal(t, "stopout", ev.Type)
	assert.Equal(t, "max-drawdown", ev.Event["reason"])

	assert.Equal(t, "Error: fetch failed\n", errOut.String())
}

func TestParseCreds(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"token":"secret"}`), 0600))
	cr, err := parseCreds(good)
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	assert.Equal(t, "secret", cr.Token)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{}`), 0600))
	_, err = parseCreds(empty)
	assert.Error(t, err)

	_, err = parseCreds(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
