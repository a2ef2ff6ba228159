package note

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sahilchouksey/campus-notes/model"
	"github.com/sahilchouksey/campus-notes/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(statuses ...model.AIStatus) statusFetcher {
	i := 0
	return func(context.Context) (*services.EnrichmentStatus, error) {
		st := statuses[i]
		if i < len(statuses)-1 {
			i++
		}
		return &services.EnrichmentStatus{NoteID: 1, AIStatus: st}, nil
	}
}

func TestStreamStatusEndsOnTerminalState(t *testing.T) {
	var buf bytes.Buffer
	fetch := sequence(model.AIStatusPending, model.AIStatusProcessing, model.AIStatusProcessing, model.AIStatusCompleted)

	err := streamStatus(context.Background(), bufio.NewWriter(&buf), fetch, time.Millisecond)
	require.NoError(t, err)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "event: status\n"))
	assert.Equal(t, 1, strings.Count(out, ": ping\n"))
	assert.True(t, strings.HasSuffix(out, "event: complete\ndata: {\"note_id\":1,\"ai_status\":\"completed\",\"stale\":false}\n\n"))
}

func TestStreamStatusCompletesImmediatelyWhenNeverRequested(t *testing.T) {
	var buf bytes.Buffer

	err := streamStatus(context.Background(), bufio.NewWriter(&buf), sequence(""), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "event: complete\n"))
}

func TestStreamStatusStopsAtDeadline(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := streamStatus(ctx, bufio.NewWriter(&buf), sequence(model.AIStatusProcessing), time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, buf.String(), "event: error\n")
}

func TestStreamStatusReportsFetchError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("database gone")

	err := streamStatus(context.Background(), bufio.NewWriter(&buf), func(context.Context) (*services.EnrichmentStatus, error) {
		return nil, boom
	}, time.Millisecond)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "database gone")
}
