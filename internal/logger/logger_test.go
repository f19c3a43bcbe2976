// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestJSONWithTags(t *testing.T) {
	var buf bytes.Buffer
	Init("info", "json", &buf)
	With("filename", "a.fits", "site", "lsc").Info("stacked", "frames", 5)
	L().Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "stacked", rec["msg"])
	assert.Equal(t, "a.fits", rec["filename"])
	assert.Equal(t, float64(5), rec["frames"])
}

func TestLogFatalfExits(t *testing.T) {
	var buf bytes.Buffer
	Init("info", "text", &buf)
	code := 0
	exit = func(c int) { code = c }
	defer func() { exit = os.Exit }()

	LogPrintf("%d: loading\n", 3)
	LogFatal(errors.New("boom"))
	assert.Equal(t, 1, code)
	assert.Equal(t, "3: loading\nError: boom\n", buf.String())
}

func TestGormAdapter(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", "text", &buf)
	a := NewGormAdapter(time.Millisecond)
	assert.Same(t, a, a.LogMode(0))

	a.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	a.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 1 }, nil)
	a.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 3", 0 }, errors.New("locked"))
	out := buf.String()
	assert.Contains(t, out, "msg=\"sql query\"")
	assert.Contains(t, out, "msg=\"slow query\"")
	assert.Contains(t, out, "msg=\"query error\"")
}
